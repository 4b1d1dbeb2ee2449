// Package insights evaluates health alerts for a draft against its current
// state. It deliberately does not consume reducer aggregates: long-hold
// detection needs "time since a specific instant", and an average over zero
// historical passes would never fire for a draft whose ring never moved.
package insights

import (
	"fmt"
	"time"

	"relay/api/internal/store"
)

const (
	AlertLongRingHold      = "long_ring_hold"
	AlertNoActivity        = "no_activity"
	AlertSingleContributor = "single_contributor"
)

const (
	LongRingHoldThreshold = 24 * time.Hour
	NoActivityThreshold   = 72 * time.Hour
	// Single-contributor alerts wait until the draft has real content.
	SingleContributorMinSegments = 5
)

type Alert struct {
	Type    string `json:"type"`
	DraftID string `json:"draftId"`
	Reason  string `json:"reason"`
}

// Evaluate returns the alerts active for the draft at the reference time.
// last_passed_at is initialized at draft creation (the creator "receives"
// the ring at t0), so long-hold fires correctly with zero passes.
func Evaluate(draft store.Draft, now time.Time) []Alert {
	alerts := make([]Alert, 0, 3)

	if held := now.Sub(draft.LastPassedAt); held >= LongRingHoldThreshold {
		alerts = append(alerts, Alert{
			Type:    AlertLongRingHold,
			DraftID: draft.ID,
			Reason: fmt.Sprintf("ring held for %s, threshold %s",
				held.Truncate(time.Minute), LongRingHoldThreshold),
		})
	}

	if idle := now.Sub(lastActivity(draft)); idle >= NoActivityThreshold {
		alerts = append(alerts, Alert{
			Type:    AlertNoActivity,
			DraftID: draft.ID,
			Reason: fmt.Sprintf("no activity for %s, threshold %s",
				idle.Truncate(time.Minute), NoActivityThreshold),
		})
	}

	contributors := uniqueContributors(draft)
	if contributors < 2 && len(draft.Segments) >= SingleContributorMinSegments {
		alerts = append(alerts, Alert{
			Type:    AlertSingleContributor,
			DraftID: draft.ID,
			Reason: fmt.Sprintf("%d contributor(s) across %d segments, expected at least 2",
				contributors, len(draft.Segments)),
		})
	}

	return alerts
}

func lastActivity(draft store.Draft) time.Time {
	latest := draft.CreatedAt
	if draft.LastPassedAt.After(latest) {
		latest = draft.LastPassedAt
	}
	for _, segment := range draft.Segments {
		if segment.CreatedAt.After(latest) {
			latest = segment.CreatedAt
		}
	}
	return latest
}

func uniqueContributors(draft store.Draft) int {
	authors := map[string]struct{}{}
	for _, segment := range draft.Segments {
		authors[segment.AuthorUserID] = struct{}{}
	}
	return len(authors)
}
