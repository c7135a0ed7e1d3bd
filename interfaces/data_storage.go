// Package interfaces defines the pluggable component interfaces of the SDK and
// the types involved in monitoring the status of data updates.
package interfaces

import (
	"time"

	"github.com/featbit/go-server-sdk/datamodel"
)

// DataStorage is the interface for the SDK's local replica of flag and segment
// definitions. The default implementation keeps everything in memory; custom
// implementations can be injected through Config.DataStorage.
//
// Implementations must be safe for concurrent use. Version gating is part of
// the contract: Init is a no-op unless version is strictly greater than the
// latest version accepted so far, and Upsert is a no-op unless version is
// strictly greater than the existing item's timestamp.
type DataStorage interface {
	// Get retrieves the item of the given category and key, or nil if the item
	// is absent or archived.
	Get(category datamodel.Category, key string) datamodel.Item

	// GetAll retrieves all non-archived items of the given category, keyed by
	// item id. The returned map is a copy owned by the caller.
	GetAll(category datamodel.Category) map[string]datamodel.Item

	// Init atomically replaces the entire store content. It reports whether
	// the payload was accepted; a stale version or nil payload is a silent
	// no-op. An error indicates a storage failure, not a rejected version.
	Init(allData map[datamodel.Category]map[string]datamodel.Item, version int64) (bool, error)

	// Upsert inserts or updates a single item. It reports whether the item was
	// applied; version gating uses the existing item's timestamp, and the
	// store-wide latest version is bumped on success.
	Upsert(category datamodel.Category, key string, item datamodel.Item, version int64) (bool, error)

	// Initialized returns true once any Init or Upsert has succeeded. It never
	// reverts to false.
	Initialized() bool

	// GetLatestVersion returns the greatest version accepted so far.
	GetLatestVersion() int64

	// Close releases any resources held by the storage.
	Close() error
}

// DataUpdateStatusProvider wraps the data storage for use by an update
// processor. It owns the update-status state machine: storage failures are
// logged and translated into an INTERRUPTED state rather than propagated, and
// every real state transition wakes up the goroutines blocked in
// WaitForOKState.
type DataUpdateStatusProvider interface {
	// Init delegates to DataStorage.Init. It returns false only on a storage
	// failure, in which case the state has been set to INTERRUPTED.
	Init(allData map[datamodel.Category]map[string]datamodel.Item, version int64) bool

	// Upsert delegates to DataStorage.Upsert, with the same error contract as
	// Init.
	Upsert(category datamodel.Category, key string, item datamodel.Item, version int64) bool

	// Initialized reports whether the underlying storage has received data.
	Initialized() bool

	// GetLatestVersion returns the storage's latest accepted version.
	GetLatestVersion() int64

	// GetAll exposes a read-only view of the storage for components that only
	// hold the provider.
	GetAll(category datamodel.Category) map[string]datamodel.Item

	// GetCurrentState returns the current update state.
	GetCurrentState() State

	// UpdateState requests a state transition. A transition from INITIALIZING
	// to INTERRUPTED is suppressed; INTERRUPTED is only meaningful after a
	// successful start.
	UpdateState(newState State)

	// WaitForOKState blocks until the state becomes OK (true), the state
	// becomes OFF (false), or the timeout expires (false). A timeout of zero
	// or less waits indefinitely.
	WaitForOKState(timeout time.Duration) bool
}

// UpdateProcessor is the component that receives flag and segment updates from
// the feature flag center and pushes them into the data storage through the
// status provider. The default implementation is the streaming pipeline; in
// offline mode a null implementation is used.
type UpdateProcessor interface {
	// Start begins the update process. The channel is closed once the
	// processor has received its first complete payload, or has permanently
	// failed.
	Start(closeWhenReady chan<- struct{})

	// IsInitialized reports whether the processor has received a complete
	// payload and stored it.
	IsInitialized() bool

	// Close shuts the processor down permanently.
	Close() error
}
