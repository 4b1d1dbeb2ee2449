package archive

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := ObjectKey("dr_abc", completed)
	if !strings.HasPrefix(key, "drafts/dr_abc/") {
		t.Errorf("key should be scoped under the draft id, got %s", key)
	}
	if !strings.HasSuffix(key, ".json") {
		t.Errorf("key should end in .json, got %s", key)
	}
	if key != ObjectKey("dr_abc", completed) {
		t.Error("key must be deterministic for a given draft and time")
	}
}

func TestSnapshotSerialization(t *testing.T) {
	snapshot := Snapshot{
		DraftID:     "dr_abc",
		Title:       "Launch thread",
		Platform:    "bluesky",
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Segments: []SnapshotSegment{
			{Order: 0, AuthorDisplay: "@u_a1b2c3", Content: "first"},
			{Order: 1, AuthorDisplay: "@u_d4e5f6", Content: "second"},
		},
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if strings.Contains(string(data), "token") {
		t.Error("snapshot must not carry token material")
	}

	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(decoded.Segments) != 2 || decoded.Segments[1].Order != 1 {
		t.Errorf("segments did not round-trip: %+v", decoded.Segments)
	}
}
