// Package fbuser defines the user type that feature flags are evaluated
// against, and a builder for constructing users.
package fbuser

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// Built-in property names. Any of "key", "keyId" or "keyid" (in any casing)
// refers to the user key; "name" (in any casing) refers to the user name.
// Custom properties with these names are ignored.
var builtins = map[string]string{
	"key":   "keyid",
	"keyid": "keyid",
	"name":  "name",
}

// User is an immutable collection of attributes describing an end user.
// Users are created with a Builder; the zero value is not valid.
type User struct {
	key     string
	name    string
	customs map[string]string
}

// GetKey returns the user's unique key.
func (u User) GetKey() string { return u.key }

// GetName returns the user's display name.
func (u User) GetName() string { return u.name }

// GetAttribute returns the value of a built-in or custom attribute. Built-in
// names are matched case-insensitively and "key"/"keyId"/"keyid" are
// interchangeable; custom names are matched exactly.
func (u User) GetAttribute(name string) (string, bool) {
	if builtin, ok := builtins[strings.ToLower(name)]; ok {
		if builtin == "keyid" {
			return u.key, true
		}
		return u.name, true
	}
	value, ok := u.customs[name]
	return value, ok
}

// MarshalJSON produces the wire form of a user as expected by the insight
// endpoint. Custom properties are emitted in name order.
func (u User) MarshalJSON() ([]byte, error) {
	type property struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	properties := make([]property, 0, len(u.customs))
	for name, value := range u.customs {
		properties = append(properties, property{Name: name, Value: value})
	}
	sort.Slice(properties, func(i, j int) bool { return properties[i].Name < properties[j].Name })
	return json.Marshal(struct {
		KeyID                string     `json:"keyId"`
		Name                 string     `json:"name"`
		CustomizedProperties []property `json:"customizedProperties"`
	}{u.key, u.name, properties})
}

// Builder is a mutable object for constructing a User. It is not safe for
// concurrent use.
type Builder struct {
	key     string
	name    string
	customs map[string]string
}

// NewBuilder creates a Builder for a user with the given key. The name
// defaults to the key unless Name is called.
func NewBuilder(key string) *Builder {
	return &Builder{key: key, name: key}
}

// Name sets the user's display name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Custom sets a custom string attribute. Attributes whose name collides with
// a built-in property are dropped.
func (b *Builder) Custom(name, value string) *Builder {
	if _, reserved := builtins[strings.ToLower(name)]; reserved {
		return b
	}
	if b.customs == nil {
		b.customs = make(map[string]string)
	}
	b.customs[name] = value
	return b
}

// CustomValue sets a custom attribute from an ldvalue.Value. Strings are
// stored as is, booleans as "true"/"false", numbers in their JSON form; other
// value kinds are dropped.
func (b *Builder) CustomValue(name string, value ldvalue.Value) *Builder {
	switch value.Type() {
	case ldvalue.StringType:
		return b.Custom(name, value.StringValue())
	case ldvalue.BoolType:
		if value.BoolValue() {
			return b.Custom(name, "true")
		}
		return b.Custom(name, "false")
	case ldvalue.NumberType:
		return b.Custom(name, value.JSONString())
	}
	return b
}

// Build validates the accumulated attributes and returns the User. The key
// and name must both be non-empty after trimming whitespace.
func (b *Builder) Build() (User, error) {
	if strings.TrimSpace(b.key) == "" {
		return User{}, errors.New("user key is not valid")
	}
	if strings.TrimSpace(b.name) == "" {
		return User{}, errors.New("user name is not valid")
	}
	customs := make(map[string]string, len(b.customs))
	for name, value := range b.customs {
		customs[name] = value
	}
	return User{key: b.key, name: b.name, customs: customs}, nil
}

// FromMap builds a User from a loosely typed property map, such as one parsed
// from JSON. "key"/"keyId"/"keyid" and "name" are treated as the built-in
// properties; every other entry with a string, boolean or numeric value
// becomes a custom attribute, and other value types are dropped.
func FromMap(properties map[string]interface{}) (User, error) {
	var builder *Builder
	for _, alias := range []string{"key", "keyId", "keyid"} {
		if raw, ok := properties[alias]; ok {
			if key, ok := raw.(string); ok && key != "" {
				builder = NewBuilder(key)
				break
			}
		}
	}
	if builder == nil {
		return User{}, errors.New("user key is not valid")
	}
	if raw, ok := properties["name"]; ok {
		if name, ok := raw.(string); ok {
			builder.Name(name)
		}
	}
	for name, raw := range properties {
		builder.CustomValue(name, ldvalue.CopyArbitraryValue(raw))
	}
	return builder.Build()
}
