package fbuser

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderValidation(t *testing.T) {
	t.Run("key and name are required", func(t *testing.T) {
		_, err := NewBuilder("").Build()
		assert.Error(t, err)

		_, err = NewBuilder("   ").Build()
		assert.Error(t, err)

		_, err = NewBuilder("u-key").Name(" ").Build()
		assert.Error(t, err)
	})

	t.Run("name defaults to the key", func(t *testing.T) {
		user, err := NewBuilder("u-key").Build()
		require.NoError(t, err)
		assert.Equal(t, "u-key", user.GetKey())
		assert.Equal(t, "u-key", user.GetName())
	})
}

func TestGetAttribute(t *testing.T) {
	user, err := NewBuilder("u-key").
		Name("u-name").
		Custom("country", "France").
		Build()
	require.NoError(t, err)

	t.Run("built-in aliases are case-insensitive", func(t *testing.T) {
		for _, alias := range []string{"key", "keyId", "keyid", "KEY", "KeyID"} {
			value, ok := user.GetAttribute(alias)
			assert.True(t, ok, alias)
			assert.Equal(t, "u-key", value, alias)
		}
		value, ok := user.GetAttribute("Name")
		assert.True(t, ok)
		assert.Equal(t, "u-name", value)
	})

	t.Run("custom attributes are matched exactly", func(t *testing.T) {
		value, ok := user.GetAttribute("country")
		assert.True(t, ok)
		assert.Equal(t, "France", value)

		_, ok = user.GetAttribute("Country")
		assert.False(t, ok)

		_, ok = user.GetAttribute("unknown")
		assert.False(t, ok)
	})
}

func TestCustomAttributes(t *testing.T) {
	t.Run("values are stringified", func(t *testing.T) {
		user, err := NewBuilder("u-key").
			CustomValue("age", ldvalue.Int(21)).
			CustomValue("score", ldvalue.Float64(1.5)).
			CustomValue("admin", ldvalue.Bool(true)).
			CustomValue("guest", ldvalue.Bool(false)).
			CustomValue("city", ldvalue.String("Paris")).
			Build()
		require.NoError(t, err)

		for attr, want := range map[string]string{
			"age":   "21",
			"score": "1.5",
			"admin": "true",
			"guest": "false",
			"city":  "Paris",
		} {
			value, ok := user.GetAttribute(attr)
			assert.True(t, ok, attr)
			assert.Equal(t, want, value, attr)
		}
	})

	t.Run("non-scalar values are dropped", func(t *testing.T) {
		user, err := NewBuilder("u-key").
			CustomValue("tags", ldvalue.ArrayOf(ldvalue.String("a"))).
			CustomValue("missing", ldvalue.Null()).
			Build()
		require.NoError(t, err)

		_, ok := user.GetAttribute("tags")
		assert.False(t, ok)
		_, ok = user.GetAttribute("missing")
		assert.False(t, ok)
	})

	t.Run("built-in collisions are dropped", func(t *testing.T) {
		user, err := NewBuilder("u-key").
			Name("u-name").
			Custom("KeyId", "other").
			Custom("name", "other").
			Build()
		require.NoError(t, err)

		value, _ := user.GetAttribute("keyid")
		assert.Equal(t, "u-key", value)
		value, _ = user.GetAttribute("name")
		assert.Equal(t, "u-name", value)
	})
}

func TestUserMarshalJSON(t *testing.T) {
	user, err := NewBuilder("u-key").
		Name("u-name").
		Custom("country", "France").
		Custom("age", "21").
		Build()
	require.NoError(t, err)

	data, err := json.Marshal(user)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"keyId":"u-key","name":"u-name","customizedProperties":[{"name":"age","value":"21"},{"name":"country","value":"France"}]}`,
		string(data))
}

func TestFromMap(t *testing.T) {
	t.Run("builds a user from parsed JSON properties", func(t *testing.T) {
		user, err := FromMap(map[string]interface{}{
			"key":     "u-key",
			"name":    "u-name",
			"age":     21,
			"admin":   true,
			"country": "France",
		})
		require.NoError(t, err)

		assert.Equal(t, "u-key", user.GetKey())
		assert.Equal(t, "u-name", user.GetName())
		for attr, want := range map[string]string{"age": "21", "admin": "true", "country": "France"} {
			value, ok := user.GetAttribute(attr)
			assert.True(t, ok, attr)
			assert.Equal(t, want, value, attr)
		}
	})

	t.Run("accepts keyId as an alias", func(t *testing.T) {
		user, err := FromMap(map[string]interface{}{"keyId": "u-key"})
		require.NoError(t, err)
		assert.Equal(t, "u-key", user.GetKey())
	})

	t.Run("rejects a missing key", func(t *testing.T) {
		_, err := FromMap(map[string]interface{}{"name": "u-name"})
		assert.Error(t, err)
	})
}
