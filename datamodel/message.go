package datamodel

import (
	"encoding/json"
	"sort"
	"time"
)

// Wire protocol constants for the data-sync channel.
const (
	MessageTypeDataSync = "data-sync"
	MessageTypePing     = "ping"

	EventTypeFull  = "full"
	EventTypePatch = "patch"
)

// StreamingMessage is the envelope of every message exchanged on the streaming
// channel.
type StreamingMessage struct {
	MessageType string       `json:"messageType"`
	Data        *SyncPayload `json:"data"`
}

// SyncPayload is the body of a data-sync message: either a full snapshot or an
// incremental patch of flags and segments.
type SyncPayload struct {
	EventType    string        `json:"eventType"`
	FeatureFlags []FeatureFlag `json:"featureFlags"`
	Segments     []Segment     `json:"segments"`
}

// DataSyncRequest is the bootstrap message the client sends after the channel
// opens, carrying the latest version it has already seen.
type DataSyncRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// PingMessage returns the serialized keepalive message.
func PingMessage() []byte {
	return []byte(`{"messageType":"ping","data":null}`)
}

// NewDataSyncMessage returns the serialized bootstrap request for the given
// version.
func NewDataSyncMessage(version int64) []byte {
	msg := struct {
		MessageType string          `json:"messageType"`
		Data        DataSyncRequest `json:"data"`
	}{MessageType: MessageTypeDataSync, Data: DataSyncRequest{Timestamp: version}}
	data, _ := json.Marshal(msg)
	return data
}

// ParseStreamingMessage decodes a raw streaming message. A JSON syntax error
// is returned as-is; the caller decides whether it is fatal.
func ParseStreamingMessage(raw []byte) (*StreamingMessage, error) {
	var msg StreamingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// IsValidDataSync reports whether the message is a well-formed data-sync
// payload that the client should process. Keepalive replies and other message
// types are simply not processed.
func (m *StreamingMessage) IsValidDataSync() bool {
	return m != nil && m.MessageType == MessageTypeDataSync && m.Data != nil &&
		(m.Data.EventType == EventTypeFull || m.Data.EventType == EventTypePatch)
}

// ToStorageData converts a sync payload into the categorized form the data
// storage accepts. Each entity's updatedAt is parsed into an epoch-millisecond
// timestamp, flag variation maps are synthesized, archived entities are
// compacted to tombstones, and the returned version is the maximum timestamp
// seen in the payload.
func (p *SyncPayload) ToStorageData() (int64, map[Category]map[string]Item) {
	var version int64
	flags := make(map[string]Item, len(p.FeatureFlags))
	segments := make(map[string]Item, len(p.Segments))

	for i := range p.FeatureFlags {
		flag := p.FeatureFlags[i]
		flag.Timestamp = parseEpochMillis(flag.UpdatedAt)
		flag.ServerID = flag.ID
		flag.ID = flag.Key
		flag.VariationMap = make(map[string]string, len(flag.Variations))
		for _, v := range flag.Variations {
			flag.VariationMap[v.ID] = v.Value
		}
		if flag.Archived {
			flags[flag.ID] = NewArchivedItem(flag.ID, flag.Timestamp)
		} else {
			flags[flag.ID] = &flag
		}
		if flag.Timestamp > version {
			version = flag.Timestamp
		}
	}

	for i := range p.Segments {
		segment := p.Segments[i]
		segment.Timestamp = parseEpochMillis(segment.UpdatedAt)
		if segment.Archived {
			segments[segment.ID] = NewArchivedItem(segment.ID, segment.Timestamp)
		} else {
			segments[segment.ID] = &segment
		}
		if segment.Timestamp > version {
			version = segment.Timestamp
		}
	}

	return version, map[Category]map[string]Item{
		FeatureFlags: flags,
		Segments:     segments,
	}
}

// SortItemsByTimestamp returns the items of one category ordered by ascending
// version, the order in which patch payloads must be applied.
func SortItemsByTimestamp(items map[string]Item) []Item {
	sorted := make([]Item, 0, len(items))
	for _, item := range items {
		sorted = append(sorted, item)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].GetTimestamp() < sorted[j].GetTimestamp()
	})
	return sorted
}

// FlagsReferencingSegment returns the keys of all flags whose rule conditions
// reference the given segment, so that a segment change can be translated into
// flag-change notifications.
func FlagsReferencingSegment(flags map[string]Item, segmentID string) []string {
	var keys []string
	for _, item := range flags {
		flag, ok := item.(*FeatureFlag)
		if !ok {
			continue
		}
		if flagReferencesSegment(flag, segmentID) {
			keys = append(keys, flag.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

func flagReferencesSegment(flag *FeatureFlag, segmentID string) bool {
	for _, rule := range flag.Rules {
		for _, cond := range rule.Conditions {
			if !isSegmentCondition(cond) {
				continue
			}
			var ids []string
			if err := json.Unmarshal([]byte(cond.Value), &ids); err != nil {
				continue
			}
			for _, id := range ids {
				if id == segmentID {
					return true
				}
			}
		}
	}
	return false
}

func isSegmentCondition(cond Condition) bool {
	op := cond.Op
	if op == "" {
		op = cond.Property
	}
	return op == "User is in segment" || op == "User is not in segment"
}

func parseEpochMillis(value string) int64 {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
