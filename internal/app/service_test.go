package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"

	"relay/api/internal/config"
	"relay/api/internal/identity"
	"relay/api/internal/store"
)

// memStore mirrors the Postgres store's semantics in memory: idempotency by
// unique key, compare-and-set on the ring holder, derived draft fields on read.
type memStore struct {
	users         map[string]store.User
	drafts        map[string]store.Draft
	segments      map[string][]store.Segment
	collaborators map[string][]store.Collaborator
	passes        map[string][]string
	passKeys      map[string]bool
	invites       map[string]store.Invite
	inviteKeys    map[string]string
	events        []store.Event
	eventKeys     map[string]int
	sessions      map[string]string
	nextEventID   int64
	pingErr       error
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[string]store.User{},
		drafts:        map[string]store.Draft{},
		segments:      map[string][]store.Segment{},
		collaborators: map[string][]store.Collaborator{},
		passes:        map[string][]string{},
		passKeys:      map[string]bool{},
		invites:       map[string]store.Invite{},
		inviteKeys:    map[string]string{},
		eventKeys:     map[string]int{},
		sessions:      map[string]string{},
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) EnsureUser(_ context.Context, userID, handle string) (store.User, error) {
	if user, ok := m.users[userID]; ok {
		return user, nil
	}
	user := store.User{ID: userID, Handle: handle, Status: "active"}
	m.users[userID] = user
	return user, nil
}

func (m *memStore) GetUser(_ context.Context, userID string) (store.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) InsertDraft(_ context.Context, draft store.Draft) error {
	draft.UpdatedAt = draft.CreatedAt
	m.drafts[draft.ID] = draft
	m.collaborators[draft.ID] = []store.Collaborator{{
		DraftID: draft.ID, UserID: draft.CreatorID, Role: "creator", AddedAt: draft.CreatedAt,
	}}
	return nil
}

func (m *memStore) GetDraft(_ context.Context, draftID string) (store.Draft, error) {
	draft, ok := m.drafts[draftID]
	if !ok {
		return store.Draft{}, sql.ErrNoRows
	}
	segments := append([]store.Segment(nil), m.segments[draftID]...)
	sort.Slice(segments, func(i, j int) bool { return segments[i].Order < segments[j].Order })
	draft.Segments = segments
	draft.SegmentCount = len(segments)
	draft.Collaborators = append([]store.Collaborator(nil), m.collaborators[draftID]...)
	draft.HoldersHistory = append([]string{draft.CreatorID}, m.passes[draftID]...)
	for _, invite := range m.invites {
		if invite.DraftID == draftID && invite.Status == store.InvitePending {
			draft.PendingInvites = append(draft.PendingInvites, invite)
		}
	}
	return draft, nil
}

func (m *memStore) ListDraftsForUser(_ context.Context, userID string) ([]store.Draft, error) {
	items := make([]store.Draft, 0)
	for draftID, collaborators := range m.collaborators {
		for _, collaborator := range collaborators {
			if collaborator.UserID == userID {
				draft := m.drafts[draftID]
				draft.SegmentCount = len(m.segments[draftID])
				items = append(items, draft)
				break
			}
		}
	}
	return items, nil
}

func (m *memStore) AppendSegment(_ context.Context, segment store.Segment) (bool, error) {
	for _, existing := range m.segments[segment.DraftID] {
		if existing.IdempotencyKey == segment.IdempotencyKey {
			return false, nil
		}
	}
	segment.Order = len(m.segments[segment.DraftID])
	m.segments[segment.DraftID] = append(m.segments[segment.DraftID], segment)
	draft := m.drafts[segment.DraftID]
	draft.UpdatedAt = segment.CreatedAt
	m.drafts[segment.DraftID] = draft
	return true, nil
}

func (m *memStore) PassRing(_ context.Context, draftID, fromUserID, toUserID, idempotencyKey string, now time.Time) (bool, error) {
	if m.passKeys[draftID+"|"+idempotencyKey] {
		return false, nil
	}
	draft, ok := m.drafts[draftID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if draft.RingHolderID != fromUserID {
		return false, store.ErrRingConflict
	}
	m.passKeys[draftID+"|"+idempotencyKey] = true
	m.passes[draftID] = append(m.passes[draftID], toUserID)
	draft.RingHolderID = toUserID
	draft.LastPassedAt = now
	draft.UpdatedAt = now
	m.drafts[draftID] = draft
	return true, nil
}

func (m *memStore) AddCollaborator(_ context.Context, collaborator store.Collaborator) error {
	for _, existing := range m.collaborators[collaborator.DraftID] {
		if existing.UserID == collaborator.UserID {
			return nil
		}
	}
	m.collaborators[collaborator.DraftID] = append(m.collaborators[collaborator.DraftID], collaborator)
	return nil
}

func (m *memStore) MarkDraftCompleted(_ context.Context, draftID string, now time.Time) (bool, error) {
	draft, ok := m.drafts[draftID]
	if !ok || draft.Status != store.DraftActive {
		return false, nil
	}
	draft.Status = store.DraftCompleted
	draft.UpdatedAt = now
	m.drafts[draftID] = draft
	return true, nil
}

func (m *memStore) InsertInvite(_ context.Context, invite store.Invite) (store.Invite, bool, error) {
	key := invite.DraftID + "|" + invite.IdempotencyKey
	if existingID, ok := m.inviteKeys[key]; ok {
		return m.invites[existingID], false, nil
	}
	m.inviteKeys[key] = invite.ID
	m.invites[invite.ID] = invite
	return invite, true, nil
}

func (m *memStore) GetInvite(_ context.Context, inviteID string) (store.Invite, error) {
	invite, ok := m.invites[inviteID]
	if !ok {
		return store.Invite{}, sql.ErrNoRows
	}
	return invite, nil
}

func (m *memStore) ListDraftInvites(_ context.Context, draftID string) ([]store.Invite, error) {
	items := make([]store.Invite, 0)
	for _, invite := range m.invites {
		if invite.DraftID == draftID {
			items = append(items, invite)
		}
	}
	return items, nil
}

func (m *memStore) MarkInviteAccepted(_ context.Context, inviteID string) (bool, error) {
	invite, ok := m.invites[inviteID]
	if !ok || invite.Status != store.InvitePending {
		return false, nil
	}
	invite.Status = store.InviteAccepted
	m.invites[inviteID] = invite
	return true, nil
}

func (m *memStore) MarkInviteRevoked(_ context.Context, inviteID string) (bool, error) {
	invite, ok := m.invites[inviteID]
	if !ok || invite.Status != store.InvitePending {
		return false, nil
	}
	invite.Status = store.InviteRevoked
	m.invites[inviteID] = invite
	return true, nil
}

func (m *memStore) AppendEvent(_ context.Context, event store.Event) (store.Event, bool, error) {
	if index, ok := m.eventKeys[event.IdempotencyKey]; ok {
		return m.events[index], false, nil
	}
	m.nextEventID++
	event.ID = m.nextEventID
	m.eventKeys[event.IdempotencyKey] = len(m.events)
	m.events = append(m.events, event)
	return event, true, nil
}

func (m *memStore) GetEventByKey(_ context.Context, idempotencyKey string) (store.Event, error) {
	index, ok := m.eventKeys[idempotencyKey]
	if !ok {
		return store.Event{}, sql.ErrNoRows
	}
	return m.events[index], nil
}

func (m *memStore) ListDraftEvents(_ context.Context, draftID string, limit int) ([]store.Event, error) {
	items := make([]store.Event, 0)
	for _, event := range m.events {
		if event.DraftID == draftID {
			items = append(items, event)
		}
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (m *memStore) ListEvents(context.Context) ([]store.Event, error) {
	return append([]store.Event(nil), m.events...), nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.sessions[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	userID, ok := m.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(m.sessions, tokenHash)
	return nil
}

func (m *memStore) eventCount(draftID, eventType string) int {
	count := 0
	for _, event := range m.events {
		if event.DraftID == draftID && event.Type == eventType {
			count++
		}
	}
	return count
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestService() (*Service, *memStore, *fakeClock) {
	ms := newMemStore()
	clk := &fakeClock{current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := &Service{
		cfg: config.Config{
			TokenSecret:   "test-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    time.Hour,
			InviteBaseURL: "http://localhost:8686",
		},
		store:    ms,
		sessions: ms,
		now:      clk.Now,
	}
	return svc, ms, clk
}

func sessionFor(handle string) Session {
	userID := identity.Resolve(handle)
	return Session{
		UserID:  userID,
		Handle:  identity.Normalize(handle),
		Display: identity.DisplayFor(userID),
	}
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
}

func mustCreateDraft(t *testing.T, svc *Service, session Session, title string) string {
	t.Helper()
	payload, err := svc.CreateDraft(context.Background(), session, title, "bluesky", "")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return payload["draft"].(map[string]any)["id"].(string)
}

func TestCreateDraftInitializesRing(t *testing.T) {
	svc, ms, clk := newTestService()
	carol := sessionFor("@carol")

	payload, err := svc.CreateDraft(context.Background(), carol, "Launch thread", "bluesky", "opening line")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	draft := payload["draft"].(map[string]any)
	if draft["ringHolderId"] != carol.UserID {
		t.Errorf("creator should hold the ring, got %v", draft["ringHolderId"])
	}
	if got := draft["lastPassedAt"].(time.Time); !got.Equal(clk.Now().UTC()) {
		t.Errorf("lastPassedAt should equal creation time, got %v", got)
	}
	if draft["segmentCount"] != 1 {
		t.Errorf("initial segment should be stored, count = %v", draft["segmentCount"])
	}

	draftID := draft["id"].(string)
	if n := ms.eventCount(draftID, store.EventDraftCreated); n != 1 {
		t.Errorf("expected one draft_created event, got %d", n)
	}
	if n := ms.eventCount(draftID, store.EventSegmentAdded); n != 1 {
		t.Errorf("expected one segment_added event, got %d", n)
	}
}

func TestCreateDraftValidation(t *testing.T) {
	svc, _, _ := newTestService()
	carol := sessionFor("@carol")
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, carol, "", "bluesky", "")
	assertDomainCode(t, err, "VALIDATION_ERROR")

	_, err = svc.CreateDraft(ctx, carol, "ok", "myspace", "")
	assertDomainCode(t, err, "VALIDATION_ERROR")

	long := make([]byte, maxTitleLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = svc.CreateDraft(ctx, carol, string(long), "bluesky", "")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestAppendSegmentRequiresRingAndMembership(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	outsider := sessionFor("@outsider")

	draftID := mustCreateDraft(t, svc, carol, "Launch thread")
	if err := ms.AddCollaborator(ctx, store.Collaborator{DraftID: draftID, UserID: xavier.UserID, Role: "collaborator"}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.AppendSegment(ctx, outsider, draftID, "hi", "k1")
	assertDomainCode(t, err, "PERMISSION_DENIED")

	// Xavier is vetted but does not hold the ring.
	_, err = svc.AppendSegment(ctx, xavier, draftID, "hi", "k1")
	assertDomainCode(t, err, "RING_REQUIRED")

	payload, err := svc.AppendSegment(ctx, carol, draftID, "first segment", "k1")
	if err != nil {
		t.Fatalf("holder append failed: %v", err)
	}
	if payload["created"] != true {
		t.Error("expected created=true on first append")
	}
}

func TestAppendSegmentIdempotentReplay(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	if _, err := svc.AppendSegment(ctx, carol, draftID, "once", "key-1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	payload, err := svc.AppendSegment(ctx, carol, draftID, "once", "key-1")
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if payload["created"] != false {
		t.Error("replay should report created=false")
	}
	if len(ms.segments[draftID]) != 1 {
		t.Errorf("replay must not add a second segment, have %d", len(ms.segments[draftID]))
	}
	if n := ms.eventCount(draftID, store.EventSegmentAdded); n != 1 {
		t.Errorf("replay must not add a second segment_added event, have %d", n)
	}
}

func TestPassRingRecipientMustBeVetted(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	outsider := sessionFor("@outsider")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	_, err := svc.PassRing(ctx, carol, draftID, outsider.UserID, "p1")
	assertDomainCode(t, err, "INVALID_RECIPIENT")

	_, err = svc.PassRing(ctx, carol, draftID, carol.UserID, "p2")
	assertDomainCode(t, err, "INVALID_RECIPIENT")
}

func TestPassRingMovesHolderAndReplayIsNoOp(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")
	if err := ms.AddCollaborator(ctx, store.Collaborator{DraftID: draftID, UserID: xavier.UserID, Role: "collaborator"}); err != nil {
		t.Fatal(err)
	}

	payload, err := svc.PassRing(ctx, carol, draftID, xavier.UserID, "p1")
	if err != nil {
		t.Fatalf("pass ring: %v", err)
	}
	if payload["passed"] != true {
		t.Error("expected passed=true")
	}
	draft := payload["draft"].(map[string]any)
	if draft["ringHolderId"] != xavier.UserID {
		t.Errorf("ring should now be with xavier, got %v", draft["ringHolderId"])
	}

	// Carol no longer holds the ring, so her retry of the same key is a
	// recorded no-op, not a second transfer.
	replay, err := svc.PassRing(ctx, carol, draftID, xavier.UserID, "p1")
	if err != nil {
		t.Fatalf("replay pass: %v", err)
	}
	if replay["passed"] != false {
		t.Error("replay should report passed=false")
	}
	if n := ms.eventCount(draftID, store.EventRingPassed); n != 1 {
		t.Errorf("expected one ring_passed event, got %d", n)
	}

	// A fresh key from a non-holder is a ring conflict.
	_, err = svc.PassRing(ctx, carol, draftID, xavier.UserID, "p2")
	assertDomainCode(t, err, "RING_REQUIRED")
}

func TestRingScenarioEndToEnd(t *testing.T) {
	svc, ms, clk := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")

	draftID := mustCreateDraft(t, svc, carol, "Launch thread")
	if err := ms.AddCollaborator(ctx, store.Collaborator{DraftID: draftID, UserID: xavier.UserID, Role: "collaborator"}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AppendSegment(ctx, carol, draftID, "carol writes", "c1"); err != nil {
		t.Fatalf("carol append: %v", err)
	}

	_, err := svc.AppendSegment(ctx, xavier, draftID, "too early", "x0")
	assertDomainCode(t, err, "RING_REQUIRED")

	clk.Advance(10 * time.Minute)
	if _, err := svc.PassRing(ctx, carol, draftID, xavier.UserID, "p1"); err != nil {
		t.Fatalf("pass ring: %v", err)
	}
	if _, err := svc.AppendSegment(ctx, xavier, draftID, "xavier writes", "x1"); err != nil {
		t.Fatalf("xavier append: %v", err)
	}

	stats, err := svc.DraftAnalytics(ctx, carol, draftID, clk.Now())
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if stats.SegmentCount != 2 {
		t.Errorf("segment count = %d, want 2", stats.SegmentCount)
	}
	if stats.UniqueContributors != 2 {
		t.Errorf("unique contributors = %d, want 2", stats.UniqueContributors)
	}
	if stats.RingPassCount != 1 {
		t.Errorf("ring pass count = %d, want 1", stats.RingPassCount)
	}
}

func TestDraftAnalyticsSeeFullEventLog(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	// Views alone push the log well past any page size.
	for i := 0; i < 120; i++ {
		if _, err := svc.GetDraft(ctx, carol, draftID, clk.Now()); err != nil {
			t.Fatalf("get draft %d: %v", i, err)
		}
	}

	stats, err := svc.DraftAnalytics(ctx, carol, draftID, clk.Now())
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if stats.ViewCount != 120 {
		t.Errorf("view count = %d, want 120 (late events must not be truncated)", stats.ViewCount)
	}
}

func TestCompleteDraftCreatorOnlyAndFreezesMutation(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")
	if err := ms.AddCollaborator(ctx, store.Collaborator{DraftID: draftID, UserID: xavier.UserID, Role: "collaborator"}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.CompleteDraft(ctx, xavier, draftID, "done-1")
	assertDomainCode(t, err, "PERMISSION_DENIED")

	payload, err := svc.CompleteDraft(ctx, carol, draftID, "done-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if payload["draft"].(map[string]any)["status"] != store.DraftCompleted {
		t.Error("draft should be completed")
	}

	// Retry is idempotent, no second event.
	if _, err := svc.CompleteDraft(ctx, carol, draftID, "done-1"); err != nil {
		t.Fatalf("complete retry: %v", err)
	}
	if n := ms.eventCount(draftID, store.EventDraftCompleted); n != 1 {
		t.Errorf("expected one draft_completed event, got %d", n)
	}

	_, err = svc.AppendSegment(ctx, carol, draftID, "after completion", "late")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestLoginRefreshLogout(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	session, err := svc.Login(ctx, "@Carol")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.UserID != identity.Resolve("carol") {
		t.Errorf("login should resolve the normalized handle, got %s", session.UserID)
	}
	if session.RefreshToken == "" || session.Token == "" {
		t.Fatal("login must issue both tokens")
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.UserID != session.UserID {
		t.Error("refresh should keep the same user")
	}

	// Rotation: the old refresh token is dead.
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("old refresh token should be rejected after rotation")
	}

	if err := svc.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); err == nil {
		t.Error("refresh token should be rejected after logout")
	}
}

func TestGetDraftRecordsView(t *testing.T) {
	svc, ms, clk := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	if _, err := svc.GetDraft(ctx, carol, draftID, clk.Now()); err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if _, err := svc.GetDraft(ctx, carol, draftID, clk.Now()); err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if n := ms.eventCount(draftID, store.EventDraftViewed); n != 2 {
		t.Errorf("each read should record a view, got %d", n)
	}
}
