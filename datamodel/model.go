// Package datamodel defines the entity types that the SDK receives from the
// feature flag center and keeps in its data storage: feature flags, segments,
// and the archived tombstones that stand in for deleted entities.
//
// Application code does not normally use this package; it is exported for the
// benefit of custom DataStorage and UpdateProcessor implementations.
package datamodel

// Item is an entity that can be kept in a DataStorage. Every item carries a
// monotonic version timestamp (epoch milliseconds) and an archival marker;
// archived items are invisible to readers but retain their timestamp so that
// stale updates can still be rejected.
type Item interface {
	// GetID returns the key of the item within its category.
	GetID() string
	// GetTimestamp returns the version of the item, in epoch milliseconds.
	GetTimestamp() int64
	// IsArchived returns true if the item is a deletion tombstone.
	IsArchived() bool
}

// ArchivedItem is the compact tombstone form of a deleted entity. Only the key
// and the version survive.
type ArchivedItem struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Archived  bool   `json:"isArchived"`
}

// NewArchivedItem creates a tombstone for the given key and version.
func NewArchivedItem(id string, timestamp int64) ArchivedItem {
	return ArchivedItem{ID: id, Timestamp: timestamp, Archived: true}
}

func (a ArchivedItem) GetID() string       { return a.ID }        //nolint:revive
func (a ArchivedItem) GetTimestamp() int64 { return a.Timestamp } //nolint:revive
func (a ArchivedItem) IsArchived() bool    { return true }        //nolint:revive

// Variation is one of the possible values of a feature flag. Values are kept
// in their stored string form; conversion to the flag's declared type happens
// at the public evaluation surface.
type Variation struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// TargetUser pins a list of user keys to a specific variation, bypassing the
// flag's rules.
type TargetUser struct {
	KeyIDs      []string `json:"keyIds"`
	VariationID string   `json:"variationId"`
}

// Condition is a single test against one user attribute. Conditions within a
// rule are AND-combined. For set and segment operators, Value holds a
// JSON-encoded array of strings.
type Condition struct {
	Property string `json:"property"`
	Op       string `json:"op"`
	Value    string `json:"value"`
}

// RolloutVariation assigns a half-open percentage interval [lo, hi) of the
// user population to a variation. The intervals of one rollout partition
// [0, 1]. ExptRollout is the share of this interval that reports to the
// experimentation side.
type RolloutVariation struct {
	ID          string     `json:"id"`
	Rollout     [2]float64 `json:"rollout"`
	ExptRollout float64    `json:"exptRollout"`
}

// RolloutDispatch describes how users are split over variations: which user
// attribute is hashed (DispatchKey, defaulting to "keyid"), whether users
// dispatched here participate in experiments, and the percentage intervals.
// It is embedded in both rules and the fallthrough of a flag.
type RolloutDispatch struct {
	DispatchKey    string             `json:"dispatchKey"`
	IncludedInExpt bool               `json:"includedInExpt"`
	Variations     []RolloutVariation `json:"variations"`
}

// Rule is an ordered set of conditions with its own rollout. The first rule
// whose conditions all match the user decides the variation.
type Rule struct {
	RolloutDispatch
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
}

// FeatureFlag is the full definition of a feature flag as stored by the SDK.
type FeatureFlag struct {
	// ID is the storage key of the flag; after ingestion it equals Key. The
	// server-side identifier is preserved in ServerID.
	ID       string `json:"id"`
	ServerID string `json:"-"`

	Key                   string          `json:"key"`
	Name                  string          `json:"name"`
	VariationType         string          `json:"variationType"`
	Variations            []Variation     `json:"variations"`
	TargetUsers           []TargetUser    `json:"targetUsers"`
	Rules                 []Rule          `json:"rules"`
	IsEnabled             bool            `json:"isEnabled"`
	DisabledVariationID   string          `json:"disabledVariationId"`
	Fallthrough           RolloutDispatch `json:"fallthrough"`
	ExptIncludeAllTargets bool            `json:"exptIncludeAllTargets"`
	Archived              bool            `json:"isArchived"`
	Timestamp             int64           `json:"timestamp"`
	UpdatedAt             string          `json:"updatedAt"`

	// VariationMap maps variation id to stored value. It is synthesized from
	// Variations during ingestion and not part of the wire format.
	VariationMap map[string]string `json:"-"`
}

func (f *FeatureFlag) GetID() string       { return f.ID }        //nolint:revive
func (f *FeatureFlag) GetTimestamp() int64 { return f.Timestamp } //nolint:revive
func (f *FeatureFlag) IsArchived() bool    { return f.Archived }  //nolint:revive

// SegmentRule is an ordered set of conditions; a user matches the segment if
// any rule's conditions all match.
type SegmentRule struct {
	Conditions []Condition `json:"conditions"`
}

// Segment is a reusable set of users that flag rules can reference through the
// segment-membership operators.
type Segment struct {
	ID        string        `json:"id"`
	Excluded  []string      `json:"excluded"`
	Included  []string      `json:"included"`
	Rules     []SegmentRule `json:"rules"`
	Archived  bool          `json:"isArchived"`
	Timestamp int64         `json:"timestamp"`
	UpdatedAt string        `json:"updatedAt"`
}

func (s *Segment) GetID() string       { return s.ID }        //nolint:revive
func (s *Segment) GetTimestamp() int64 { return s.Timestamp } //nolint:revive
func (s *Segment) IsArchived() bool    { return s.Archived }  //nolint:revive
