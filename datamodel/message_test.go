package datamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamingMessage(t *testing.T) {
	t.Run("data sync envelope", func(t *testing.T) {
		msg, err := ParseStreamingMessage([]byte(`{"messageType":"data-sync","data":{"eventType":"full"}}`))
		require.NoError(t, err)
		assert.True(t, msg.IsValidDataSync())
	})

	t.Run("pong is not a data sync", func(t *testing.T) {
		msg, err := ParseStreamingMessage([]byte(`{"messageType":"pong","data":null}`))
		require.NoError(t, err)
		assert.False(t, msg.IsValidDataSync())
	})

	t.Run("unknown event type is not processed", func(t *testing.T) {
		msg, err := ParseStreamingMessage([]byte(`{"messageType":"data-sync","data":{"eventType":"diff"}}`))
		require.NoError(t, err)
		assert.False(t, msg.IsValidDataSync())
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseStreamingMessage([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestNewDataSyncMessage(t *testing.T) {
	assert.JSONEq(t, `{"messageType":"data-sync","data":{"timestamp":42}}`, string(NewDataSyncMessage(42)))
	assert.JSONEq(t, `{"messageType":"ping","data":null}`, string(PingMessage()))
}

func TestToStorageData(t *testing.T) {
	payload := `{
		"messageType": "data-sync",
		"data": {
			"eventType": "full",
			"featureFlags": [
				{
					"id": "server-1",
					"key": "ff-live",
					"name": "live flag",
					"variationType": "boolean",
					"variations": [{"id":"v1","value":"true"},{"id":"v2","value":"false"}],
					"isArchived": false,
					"updatedAt": "2024-05-10T00:00:01.000Z"
				},
				{
					"id": "server-2",
					"key": "ff-gone",
					"name": "archived flag",
					"variationType": "boolean",
					"variations": [],
					"isArchived": true,
					"updatedAt": "2024-05-10T00:00:02.000Z"
				}
			],
			"segments": [
				{"id": "seg-1", "included": ["u1"], "isArchived": false, "updatedAt": "2024-05-10T00:00:03.000Z"}
			]
		}
	}`
	msg, err := ParseStreamingMessage([]byte(payload))
	require.NoError(t, err)
	require.True(t, msg.IsValidDataSync())

	version, allData := msg.Data.ToStorageData()

	t.Run("version is the maximum timestamp in the payload", func(t *testing.T) {
		assert.Equal(t, allData[Segments]["seg-1"].GetTimestamp(), version)
	})

	t.Run("flags are stored under their key with a variation map", func(t *testing.T) {
		item := allData[FeatureFlags]["ff-live"]
		require.NotNil(t, item)
		flag, ok := item.(*FeatureFlag)
		require.True(t, ok)
		assert.Equal(t, "ff-live", flag.GetID())
		assert.Equal(t, "server-1", flag.ServerID)
		assert.Equal(t, map[string]string{"v1": "true", "v2": "false"}, flag.VariationMap)
		assert.False(t, flag.IsArchived())
	})

	t.Run("archived entities become tombstones", func(t *testing.T) {
		item := allData[FeatureFlags]["ff-gone"]
		require.NotNil(t, item)
		assert.True(t, item.IsArchived())
		_, isTombstone := item.(ArchivedItem)
		assert.True(t, isTombstone)
	})

	t.Run("timestamps order the items for patching", func(t *testing.T) {
		sorted := SortItemsByTimestamp(allData[FeatureFlags])
		require.Len(t, sorted, 2)
		assert.Equal(t, "ff-live", sorted[0].GetID())
		assert.Equal(t, "ff-gone", sorted[1].GetID())
	})
}

func TestFlagsReferencingSegment(t *testing.T) {
	segmentRule := func(ids string) Rule {
		return Rule{Conditions: []Condition{{Property: "User is in segment", Value: ids}}}
	}
	flags := map[string]Item{
		"ff-a": &FeatureFlag{ID: "ff-a", Key: "ff-a", Rules: []Rule{segmentRule(`["seg-1","seg-2"]`)}},
		"ff-b": &FeatureFlag{ID: "ff-b", Key: "ff-b", Rules: []Rule{segmentRule(`["seg-2"]`)}},
		"ff-c": &FeatureFlag{ID: "ff-c", Key: "ff-c", Rules: []Rule{{Conditions: []Condition{{Property: "country", Op: "Equal", Value: "FR"}}}}},
		"gone": NewArchivedItem("gone", 1),
	}

	assert.Equal(t, []string{"ff-a"}, FlagsReferencingSegment(flags, "seg-1"))
	assert.Equal(t, []string{"ff-a", "ff-b"}, FlagsReferencingSegment(flags, "seg-2"))
	assert.Empty(t, FlagsReferencingSegment(flags, "seg-3"))
}
