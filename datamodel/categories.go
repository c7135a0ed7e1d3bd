package datamodel

// Category identifies one kind of entity kept in a DataStorage, such as feature
// flags or segments. Application code does not normally reference categories
// directly; they are passed to storage implementations so that custom storage
// can keep each collection of data separate.
type Category struct {
	// Name is the unique name of the collection, e.g. "featureFlags".
	Name string
	// Tag is a short abbreviation of the name, usable as a key prefix by
	// storage implementations.
	Tag string
}

func (c Category) String() string {
	return c.Name
}

// FeatureFlags is the category for feature flag entities.
var FeatureFlags = Category{Name: "featureFlags", Tag: "ff"} //nolint:gochecknoglobals

// Segments is the category for segment entities.
var Segments = Category{Name: "segments", Tag: "seg"} //nolint:gochecknoglobals

// DataTest is a category reserved for testing storage implementations.
var DataTest = Category{Name: "datatest", Tag: "test"} //nolint:gochecknoglobals

// AllCategories enumerates every category a storage implementation may be asked
// to hold.
var AllCategories = []Category{FeatureFlags, Segments, DataTest} //nolint:gochecknoglobals
