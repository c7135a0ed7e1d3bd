package datastore

import (
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featbit/go-server-sdk/datamodel"
)

func makeFlag(key string, timestamp int64) *datamodel.FeatureFlag {
	return &datamodel.FeatureFlag{
		ID:        key,
		Key:       key,
		Name:      key,
		Timestamp: timestamp,
	}
}

func makeInitData(items ...datamodel.Item) map[datamodel.Category]map[string]datamodel.Item {
	flags := make(map[string]datamodel.Item)
	for _, item := range items {
		flags[item.GetID()] = item
	}
	return map[datamodel.Category]map[string]datamodel.Item{
		datamodel.FeatureFlags: flags,
	}
}

func TestInMemoryDataStorageInit(t *testing.T) {
	t.Run("store is not initialized before init", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		assert.False(t, store.Initialized())
		assert.Equal(t, int64(0), store.GetLatestVersion())
		assert.Nil(t, store.Get(datamodel.FeatureFlags, "id_1"))
	})

	t.Run("init replaces all data and records the version", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		ok, err := store.Init(makeInitData(
			datamodel.NewArchivedItem("id_1", 1),
			makeFlag("id_2", 2),
			makeFlag("id_3", 3),
		), 3)
		require.NoError(t, err)
		require.True(t, ok)

		assert.True(t, store.Initialized())
		assert.Equal(t, int64(3), store.GetLatestVersion())

		all := store.GetAll(datamodel.FeatureFlags)
		assert.Len(t, all, 2)
		assert.Contains(t, all, "id_2")
		assert.Contains(t, all, "id_3")
	})

	t.Run("archived items are invisible to readers", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		_, err := store.Init(makeInitData(datamodel.NewArchivedItem("id_1", 1), makeFlag("id_2", 2)), 2)
		require.NoError(t, err)

		assert.Nil(t, store.Get(datamodel.FeatureFlags, "id_1"))
		assert.NotNil(t, store.Get(datamodel.FeatureFlags, "id_2"))
	})

	t.Run("init with a stale version is a no-op", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		_, err := store.Init(makeInitData(makeFlag("id_2", 2), makeFlag("id_3", 3)), 3)
		require.NoError(t, err)

		ok, err := store.Init(makeInitData(makeFlag("id_9", 2)), 2)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Equal(t, int64(3), store.GetLatestVersion())
		assert.Nil(t, store.Get(datamodel.FeatureFlags, "id_9"))
		assert.NotNil(t, store.Get(datamodel.FeatureFlags, "id_2"))
	})

	t.Run("init with nil data is rejected", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		ok, err := store.Init(nil, 5)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, store.Initialized())
	})
}

func TestInMemoryDataStorageUpsert(t *testing.T) {
	t.Run("upsert inserts a new item and marks the store initialized", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		ok, err := store.Upsert(datamodel.FeatureFlags, "id_1", makeFlag("id_1", 10), 10)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.True(t, store.Initialized())
		assert.Equal(t, int64(10), store.GetLatestVersion())
		assert.NotNil(t, store.Get(datamodel.FeatureFlags, "id_1"))
	})

	t.Run("upsert is gated on the existing item's timestamp", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		_, err := store.Upsert(datamodel.FeatureFlags, "id_1", makeFlag("id_1", 10), 10)
		require.NoError(t, err)

		ok, err := store.Upsert(datamodel.FeatureFlags, "id_1", makeFlag("stale", 10), 10)
		require.NoError(t, err)
		assert.False(t, ok)

		item := store.Get(datamodel.FeatureFlags, "id_1")
		require.NotNil(t, item)
		assert.Equal(t, "id_1", item.(*datamodel.FeatureFlag).Name)
	})

	t.Run("out-of-order update for another key still applies", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		_, err := store.Upsert(datamodel.FeatureFlags, "id_1", makeFlag("id_1", 20), 20)
		require.NoError(t, err)

		ok, err := store.Upsert(datamodel.FeatureFlags, "id_2", makeFlag("id_2", 15), 15)
		require.NoError(t, err)
		assert.True(t, ok)

		// latest version never decreases
		assert.Equal(t, int64(20), store.GetLatestVersion())
		assert.NotNil(t, store.Get(datamodel.FeatureFlags, "id_2"))
	})

	t.Run("upsert with an archived item hides the key", func(t *testing.T) {
		store := NewInMemoryDataStorage(ldlog.NewDisabledLoggers())
		_, err := store.Upsert(datamodel.FeatureFlags, "id_1", makeFlag("id_1", 10), 10)
		require.NoError(t, err)

		ok, err := store.Upsert(datamodel.FeatureFlags, "id_1", datamodel.NewArchivedItem("id_1", 11), 11)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.Nil(t, store.Get(datamodel.FeatureFlags, "id_1"))
		assert.Empty(t, store.GetAll(datamodel.FeatureFlags))
		// the store stays initialized once it has seen data
		assert.True(t, store.Initialized())
	})
}

func TestNullDataStorage(t *testing.T) {
	store := NewNullDataStorage()
	assert.True(t, store.Initialized())
	assert.Equal(t, int64(0), store.GetLatestVersion())

	ok, err := store.Init(makeInitData(makeFlag("id_1", 1)), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Upsert(datamodel.FeatureFlags, "id_1", makeFlag("id_1", 1), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Nil(t, store.Get(datamodel.FeatureFlags, "id_1"))
	assert.Empty(t, store.GetAll(datamodel.FeatureFlags))
	assert.NoError(t, store.Close())
}
