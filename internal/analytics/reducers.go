// Package analytics computes read models from the append-only event log.
// Every reducer is a pure function of (events, now): no clocks, no stores,
// no randomness, so two calls with identical arguments produce identical
// output byte for byte.
package analytics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"relay/api/internal/identity"
	"relay/api/internal/store"
)

// ErrUnknownSchemaVersion is returned when the log contains an event written
// under a schema this code does not know. Callers treat it as bad input, not
// a server fault.
var ErrUnknownSchemaVersion = errors.New("unknown event schema version")

const maxLeaderboardEntries = 10

const (
	MetricContribution = "contribution"
	MetricDrafts       = "drafts"
)

type DraftAnalytics struct {
	DraftID            string     `json:"draftId"`
	SegmentCount       int        `json:"segmentCount"`
	UniqueContributors int        `json:"uniqueContributors"`
	ViewCount          int        `json:"viewCount"`
	ShareCount         int        `json:"shareCount"`
	RingPassCount      int        `json:"ringPassCount"`
	InviteAcceptCount  int        `json:"inviteAcceptCount"`
	LastActivityAt     *time.Time `json:"lastActivityAt,omitempty"`
	// AverageHoldSeconds is descriptive only. Alerting never reads it: with
	// zero completed holds there are no samples, and an average over zero
	// samples once suppressed the long-hold alert entirely. Alerts work off
	// current draft state instead (see the insights package).
	AverageHoldSeconds float64   `json:"averageHoldSeconds"`
	HoldSamples        int       `json:"holdSamples"`
	AsOf               time.Time `json:"asOf"`
}

type UserAnalytics struct {
	UserID            string    `json:"userId"`
	Display           string    `json:"display"`
	SegmentsWritten   int       `json:"segmentsWritten"`
	RingPasses        int       `json:"ringPasses"`
	DraftsContributed int       `json:"draftsContributed"`
	InvitesAccepted   int       `json:"invitesAccepted"`
	AsOf              time.Time `json:"asOf"`
}

type LeaderboardEntry struct {
	UserID  string `json:"userId"`
	Display string `json:"display"`
	Score   int    `json:"score"`
}

// visible filters to events at or before now and rejects unknown schema
// versions. An unrecognized version fails the whole reduction rather than
// silently skewing counts.
func visible(events []store.Event, now time.Time) ([]store.Event, error) {
	out := make([]store.Event, 0, len(events))
	for _, event := range events {
		if event.SchemaVersion != store.EventSchemaVersion {
			return nil, fmt.Errorf("%w %d (event %d)", ErrUnknownSchemaVersion, event.SchemaVersion, event.ID)
		}
		if event.Timestamp.After(now) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func ReduceDraftAnalytics(draftID string, events []store.Event, now time.Time) (DraftAnalytics, error) {
	scoped, err := visible(events, now)
	if err != nil {
		return DraftAnalytics{}, err
	}

	result := DraftAnalytics{DraftID: draftID, AsOf: now.UTC()}
	contributors := map[string]struct{}{}
	var lastActivity time.Time
	var holdStart time.Time
	var holdTotal time.Duration

	for _, event := range scoped {
		if event.DraftID != draftID {
			continue
		}
		switch event.Type {
		case store.EventDraftCreated:
			holdStart = event.Timestamp
		case store.EventSegmentAdded:
			result.SegmentCount++
			if event.ActorID != "" {
				contributors[event.ActorID] = struct{}{}
			}
		case store.EventRingPassed:
			result.RingPassCount++
			if !holdStart.IsZero() {
				holdTotal += event.Timestamp.Sub(holdStart)
				result.HoldSamples++
			}
			holdStart = event.Timestamp
		case store.EventDraftViewed:
			result.ViewCount++
		case store.EventDraftShared:
			result.ShareCount++
		case store.EventInviteAccepted:
			result.InviteAcceptCount++
		}
		switch event.Type {
		case store.EventSegmentAdded, store.EventRingPassed, store.EventDraftCreated, store.EventDraftCompleted:
			if event.Timestamp.After(lastActivity) {
				lastActivity = event.Timestamp
			}
		}
	}

	result.UniqueContributors = len(contributors)
	if !lastActivity.IsZero() {
		utc := lastActivity.UTC()
		result.LastActivityAt = &utc
	}
	if result.HoldSamples > 0 {
		result.AverageHoldSeconds = holdTotal.Seconds() / float64(result.HoldSamples)
	}
	return result, nil
}

func ReduceUserAnalytics(userID string, events []store.Event, now time.Time) (UserAnalytics, error) {
	scoped, err := visible(events, now)
	if err != nil {
		return UserAnalytics{}, err
	}

	result := UserAnalytics{
		UserID:  userID,
		Display: identity.DisplayFor(userID),
		AsOf:    now.UTC(),
	}
	drafts := map[string]struct{}{}

	for _, event := range scoped {
		if event.ActorID != userID {
			continue
		}
		switch event.Type {
		case store.EventSegmentAdded:
			result.SegmentsWritten++
			drafts[event.DraftID] = struct{}{}
		case store.EventRingPassed:
			result.RingPasses++
		case store.EventDraftCreated:
			drafts[event.DraftID] = struct{}{}
		case store.EventInviteAccepted:
			result.InvitesAccepted++
		}
	}

	result.DraftsContributed = len(drafts)
	return result, nil
}

// ReduceLeaderboard returns at most ten entries sorted by (score desc,
// user id asc). The cap is a product decision: only top performers are
// surfaced, never anyone's absolute rank.
func ReduceLeaderboard(metric string, events []store.Event, now time.Time) ([]LeaderboardEntry, error) {
	scoped, err := visible(events, now)
	if err != nil {
		return nil, err
	}

	scores := map[string]int{}
	switch metric {
	case MetricContribution:
		segments := map[string]int{}
		passes := map[string]int{}
		drafts := map[string]map[string]struct{}{}
		for _, event := range scoped {
			if event.ActorID == "" {
				continue
			}
			switch event.Type {
			case store.EventSegmentAdded:
				segments[event.ActorID]++
				if drafts[event.ActorID] == nil {
					drafts[event.ActorID] = map[string]struct{}{}
				}
				drafts[event.ActorID][event.DraftID] = struct{}{}
			case store.EventRingPassed:
				passes[event.ActorID]++
			case store.EventDraftCreated:
				if drafts[event.ActorID] == nil {
					drafts[event.ActorID] = map[string]struct{}{}
				}
				drafts[event.ActorID][event.DraftID] = struct{}{}
			}
		}
		for user := range segments {
			scores[user] += segments[user] * 3
		}
		for user := range passes {
			scores[user] += passes[user] * 2
		}
		for user := range drafts {
			scores[user] += len(drafts[user])
		}
	case MetricDrafts:
		for _, event := range scoped {
			if event.Type == store.EventDraftCreated && event.ActorID != "" {
				scores[event.ActorID]++
			}
		}
	default:
		return nil, fmt.Errorf("unknown leaderboard metric %q", metric)
	}

	entries := make([]LeaderboardEntry, 0, len(scores))
	for user, score := range scores {
		if score <= 0 {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID:  user,
			Display: identity.DisplayFor(user),
			Score:   score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if len(entries) > maxLeaderboardEntries {
		entries = entries[:maxLeaderboardEntries]
	}
	return entries, nil
}
