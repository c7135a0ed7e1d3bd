// Package datastore provides the built-in DataStorage implementations: a
// thread-safe in-memory replica with versioned init/upsert semantics, and a
// null storage for clients that should always fall back to default values.
package datastore

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/interfaces"
)

// inMemoryDataStorage is the default DataStorage, backed by a map per
// category under a reader/writer lock.
//
// We deliberately do not use a defer pattern to manage the lock in these
// methods. Using defer adds a small but consistent overhead, and these store
// methods may be called with very high frequency (at least in the case of Get
// and Initialized). To make it safe to hold a lock without deferring the
// unlock, there is only one return point from each method and no operation
// that could panic after the lock is acquired.
type inMemoryDataStorage struct {
	allData     map[datamodel.Category]map[string]datamodel.Item
	initialized bool
	version     int64
	sync.RWMutex
	loggers ldlog.Loggers
}

// NewInMemoryDataStorage creates the default in-memory data storage.
func NewInMemoryDataStorage(loggers ldlog.Loggers) interfaces.DataStorage {
	return &inMemoryDataStorage{
		allData: make(map[datamodel.Category]map[string]datamodel.Item),
		loggers: loggers,
	}
}

func (store *inMemoryDataStorage) Get(category datamodel.Category, key string) datamodel.Item {
	store.RLock()

	var item datamodel.Item
	if coll, ok := store.allData[category]; ok {
		item = coll[key]
	}
	if item != nil && item.IsArchived() {
		item = nil
	}

	store.RUnlock()

	if item == nil && store.loggers.IsDebugEnabled() {
		store.loggers.Debugf(`key %s not found in "%s"`, key, category)
	}
	return item
}

func (store *inMemoryDataStorage) GetAll(category datamodel.Category) map[string]datamodel.Item {
	store.RLock()

	itemsOut := make(map[string]datamodel.Item)
	for key, item := range store.allData[category] {
		if !item.IsArchived() {
			itemsOut[key] = item
		}
	}

	store.RUnlock()

	return itemsOut
}

func (store *inMemoryDataStorage) Init(
	allData map[datamodel.Category]map[string]datamodel.Item,
	version int64,
) (bool, error) {
	if allData == nil || version <= 0 {
		return false, nil
	}

	store.Lock()

	applied := version > store.version
	if applied {
		store.allData = make(map[datamodel.Category]map[string]datamodel.Item, len(allData))
		for category, items := range allData {
			coll := make(map[string]datamodel.Item, len(items))
			for key, item := range items {
				coll[key] = item
			}
			store.allData[category] = coll
		}
		store.version = version
		store.initialized = true
	}

	store.Unlock()

	return applied, nil
}

func (store *inMemoryDataStorage) Upsert(
	category datamodel.Category,
	key string,
	item datamodel.Item,
	version int64,
) (bool, error) {
	if key == "" || item == nil || version <= 0 {
		return false, nil
	}

	store.Lock()

	applied := false
	coll, ok := store.allData[category]
	if !ok {
		coll = make(map[string]datamodel.Item)
		store.allData[category] = coll
	}
	// gating is against the existing item's own timestamp, not the store-wide
	// version, so that an out-of-order message for one key cannot block
	// updates for another
	existing, found := coll[key]
	if !found || existing.GetTimestamp() < version {
		coll[key] = item
		if version > store.version {
			store.version = version
		}
		store.initialized = true
		applied = true
	}

	store.Unlock()

	return applied, nil
}

func (store *inMemoryDataStorage) Initialized() bool {
	store.RLock()
	ret := store.initialized
	store.RUnlock()
	return ret
}

func (store *inMemoryDataStorage) GetLatestVersion() int64 {
	store.RLock()
	ret := store.version
	store.RUnlock()
	return ret
}

func (store *inMemoryDataStorage) Close() error {
	return nil
}
