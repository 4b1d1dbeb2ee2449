package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"relay/api/internal/analytics"
	"relay/api/internal/archive"
	"relay/api/internal/auth"
	"relay/api/internal/config"
	"relay/api/internal/identity"
	"relay/api/internal/insights"
	"relay/api/internal/roles"
	"relay/api/internal/search"
	"relay/api/internal/store"
	"relay/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Handle       string
	Display      string
	JTI          string
	ExpiresAt    time.Time
}

const (
	maxTitleLength   = 200
	maxContentLength = 2000
	maxHandleLength  = 64
	maxKeyLength     = 128

	defaultInviteTTLHours = 72
	maxInviteTTLHours     = 336
)

var allowedPlatforms = map[string]struct{}{
	"bluesky":  {},
	"mastodon": {},
	"threads":  {},
	"x":        {},
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUser(ctx context.Context, userID, handle string) (store.User, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	InsertDraft(ctx context.Context, draft store.Draft) error
	GetDraft(ctx context.Context, draftID string) (store.Draft, error)
	ListDraftsForUser(ctx context.Context, userID string) ([]store.Draft, error)
	AppendSegment(ctx context.Context, segment store.Segment) (bool, error)
	PassRing(ctx context.Context, draftID, fromUserID, toUserID, idempotencyKey string, now time.Time) (bool, error)
	AddCollaborator(ctx context.Context, collaborator store.Collaborator) error
	MarkDraftCompleted(ctx context.Context, draftID string, now time.Time) (bool, error)
	InsertInvite(ctx context.Context, invite store.Invite) (store.Invite, bool, error)
	GetInvite(ctx context.Context, inviteID string) (store.Invite, error)
	ListDraftInvites(ctx context.Context, draftID string) ([]store.Invite, error)
	MarkInviteAccepted(ctx context.Context, inviteID string) (bool, error)
	MarkInviteRevoked(ctx context.Context, inviteID string) (bool, error)
	AppendEvent(ctx context.Context, event store.Event) (store.Event, bool, error)
	GetEventByKey(ctx context.Context, idempotencyKey string) (store.Event, error)
	ListDraftEvents(ctx context.Context, draftID string, limit int) ([]store.Event, error)
	ListEvents(ctx context.Context) ([]store.Event, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type archiver interface {
	StoreSnapshot(ctx context.Context, snapshot archive.Snapshot) (string, error)
}

type emailSender interface {
	IsConfigured() bool
	SendInviteEmail(to, draftTitle, acceptURL string, expiresAt time.Time) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	email    emailSender
	archive  archiver
	now      func() time.Time
}

// New wires the service against Postgres. Refresh sessions default to the
// Postgres table; UseSessionStore swaps in Redis when configured.
func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		now:      time.Now,
	}
}

func (s *Service) UseSessionStore(sessions sessionStore) {
	if sessions != nil {
		s.sessions = sessions
	}
}

func (s *Service) UseSearch(svc *search.Service) {
	s.search = svc
}

func (s *Service) UseEmail(sender emailSender) {
	s.email = sender
}

func (s *Service) UseArchive(svc archiver) {
	s.archive = svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Now is the service clock, used as the default reference time for analytics
// reads when the caller does not pin one.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

func (s *Service) Login(ctx context.Context, handle string) (Session, error) {
	normalized := identity.Normalize(handle)
	if normalized == "" {
		return Session{}, validationError("handle is required")
	}
	if len(normalized) > maxHandleLength {
		return Session{}, validationError(fmt.Sprintf("handle must be at most %d characters", maxHandleLength))
	}

	user, err := s.store.EnsureUser(ctx, identity.Resolve(normalized), normalized)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    user.ID,
		Handle: user.Handle,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Handle:       user.Handle,
		Display:      identity.DisplayFor(user.ID),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Handle:    user.Handle,
		Display:   identity.DisplayFor(user.ID),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) CreateDraft(ctx context.Context, session Session, title, platform, initialSegment string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if len(title) > maxTitleLength {
		return nil, validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	if _, ok := allowedPlatforms[platform]; !ok {
		return nil, validationError("platform must be one of bluesky, mastodon, threads, x")
	}
	if len(initialSegment) > maxContentLength {
		return nil, validationError(fmt.Sprintf("initial segment must be at most %d characters", maxContentLength))
	}

	now := s.now().UTC()
	draft := store.Draft{
		ID:           util.NewID("dr"),
		CreatorID:    session.UserID,
		Title:        title,
		Platform:     platform,
		Status:       store.DraftActive,
		RingHolderID: session.UserID,
		// The creator receives the ring at creation; long-hold alerts
		// measure from this instant even if the ring never moves.
		LastPassedAt: now,
		CreatedAt:    now,
	}
	if err := s.store.InsertDraft(ctx, draft); err != nil {
		return nil, err
	}

	if err := s.appendEvent(ctx, store.Event{
		DraftID:        draft.ID,
		Type:           store.EventDraftCreated,
		ActorID:        session.UserID,
		Timestamp:      now,
		Payload:        map[string]any{"title": title, "platform": platform},
		IdempotencyKey: "draft_created:" + draft.ID,
	}); err != nil {
		return nil, err
	}

	if strings.TrimSpace(initialSegment) != "" {
		segment := store.Segment{
			ID:                util.NewID("seg"),
			DraftID:           draft.ID,
			AuthorUserID:      session.UserID,
			Content:           initialSegment,
			AuthorDisplay:     identity.DisplayFor(session.UserID),
			RingHolderDisplay: identity.DisplayFor(session.UserID),
			IdempotencyKey:    "initial:" + draft.ID,
			CreatedAt:         now,
		}
		if _, err := s.store.AppendSegment(ctx, segment); err != nil {
			return nil, err
		}
		if err := s.appendEvent(ctx, store.Event{
			DraftID:        draft.ID,
			Type:           store.EventSegmentAdded,
			ActorID:        session.UserID,
			Timestamp:      now,
			Payload:        map[string]any{"segmentId": segment.ID},
			IdempotencyKey: "segment_added:" + draft.ID + ":" + segment.IdempotencyKey,
		}); err != nil {
			return nil, err
		}
		s.indexSegment(segment)
	}

	created, err := s.store.GetDraft(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	s.indexDraft(created)
	return map[string]any{"draft": s.draftPayload(created, now)}, nil
}

func (s *Service) ListDrafts(ctx context.Context, session Session) (map[string]any, error) {
	drafts, err := s.store.ListDraftsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	items := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		items = append(items, s.draftSummary(draft, now))
	}
	return map[string]any{"drafts": items}, nil
}

// GetDraft returns the draft with analytics embedded as of the reference time.
// The view itself is recorded as a draft_viewed event, best effort.
func (s *Service) GetDraft(ctx context.Context, session Session, draftID string, now time.Time) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionRead); err != nil {
		return nil, err
	}

	if _, _, err := s.store.AppendEvent(ctx, store.Event{
		DraftID:        draft.ID,
		Type:           store.EventDraftViewed,
		SchemaVersion:  store.EventSchemaVersion,
		ActorID:        session.UserID,
		Timestamp:      s.now().UTC(),
		IdempotencyKey: "draft_viewed:" + draft.ID + ":" + util.NewID(""),
	}); err != nil {
		log.Printf("record draft_viewed for %s: %v", draft.ID, err)
	}

	payload := map[string]any{"draft": s.draftPayload(draft, now)}
	events, err := s.store.ListDraftEvents(ctx, draft.ID, 0)
	if err != nil {
		return nil, err
	}
	draftAnalytics, err := analytics.ReduceDraftAnalytics(draft.ID, events, now)
	if err != nil {
		return nil, err
	}
	payload["analytics"] = draftAnalytics
	return payload, nil
}

func (s *Service) AppendSegment(ctx context.Context, session Session, draftID, content, idempotencyKey string) (map[string]any, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationError("content is required")
	}
	if len(content) > maxContentLength {
		return nil, validationError(fmt.Sprintf("content must be at most %d characters", maxContentLength))
	}
	idempotencyKey, err := validKey(idempotencyKey)
	if err != nil {
		return nil, err
	}

	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(draft); err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionAppend); err != nil {
		return nil, err
	}
	if draft.RingHolderID != session.UserID {
		return nil, ringRequired("only the current ring holder may append")
	}

	now := s.now().UTC()
	segment := store.Segment{
		ID:                util.NewID("seg"),
		DraftID:           draft.ID,
		AuthorUserID:      session.UserID,
		Content:           content,
		AuthorDisplay:     identity.DisplayFor(session.UserID),
		RingHolderDisplay: identity.DisplayFor(draft.RingHolderID),
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         now,
	}
	created, err := s.store.AppendSegment(ctx, segment)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.appendEvent(ctx, store.Event{
			DraftID:        draft.ID,
			Type:           store.EventSegmentAdded,
			ActorID:        session.UserID,
			Timestamp:      now,
			Payload:        map[string]any{"segmentId": segment.ID},
			IdempotencyKey: "segment_added:" + draft.ID + ":" + idempotencyKey,
		}); err != nil {
			return nil, err
		}
		s.indexSegment(segment)
	}

	updated, err := s.store.GetDraft(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"draft":   s.draftPayload(updated, now),
		"created": created,
	}, nil
}

func (s *Service) PassRing(ctx context.Context, session Session, draftID, toUserID, idempotencyKey string) (map[string]any, error) {
	idempotencyKey, err := validKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	toUserID = strings.TrimSpace(toUserID)
	if toUserID == "" {
		return nil, validationError("toUserId is required")
	}

	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(draft); err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionPass); err != nil {
		return nil, err
	}
	if draft.RingHolderID != session.UserID {
		return nil, ringRequired("only the current ring holder may pass the ring")
	}
	if toUserID == session.UserID {
		return nil, invalidRecipient("cannot pass the ring to yourself")
	}
	if collaboratorRole(draft, toUserID) == "" {
		return nil, invalidRecipient("recipient is not a collaborator on this draft")
	}

	now := s.now().UTC()
	moved, err := s.store.PassRing(ctx, draft.ID, session.UserID, toUserID, idempotencyKey, now)
	if err != nil {
		if errors.Is(err, store.ErrRingConflict) {
			return nil, ringRequired("ring holder changed, reload the draft")
		}
		return nil, err
	}
	if moved {
		if err := s.appendEvent(ctx, store.Event{
			DraftID:        draft.ID,
			Type:           store.EventRingPassed,
			ActorID:        session.UserID,
			Timestamp:      now,
			Payload:        map[string]any{"toUserId": toUserID},
			IdempotencyKey: "ring_passed:" + draft.ID + ":" + idempotencyKey,
		}); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.GetDraft(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"draft":  s.draftPayload(updated, now),
		"passed": moved,
	}, nil
}

func (s *Service) CompleteDraft(ctx context.Context, session Session, draftID, idempotencyKey string) (map[string]any, error) {
	idempotencyKey, err := validKey(idempotencyKey)
	if err != nil {
		return nil, err
	}

	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionComplete); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	completed, err := s.store.MarkDraftCompleted(ctx, draft.ID, now)
	if err != nil {
		return nil, err
	}
	if !completed && draft.Status != store.DraftCompleted {
		return nil, validationError("draft is not active")
	}
	if completed {
		if err := s.appendEvent(ctx, store.Event{
			DraftID:        draft.ID,
			Type:           store.EventDraftCompleted,
			ActorID:        session.UserID,
			Timestamp:      now,
			IdempotencyKey: "draft_completed:" + draft.ID + ":" + idempotencyKey,
		}); err != nil {
			return nil, err
		}
		s.archiveDraft(draft, now)
	}

	updated, err := s.store.GetDraft(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	s.indexDraft(updated)
	return map[string]any{"draft": s.draftPayload(updated, now)}, nil
}

// TrackShare records that a collaborator shared the draft externally. Only the
// analytics event is stored; the share itself happens outside this service.
func (s *Service) TrackShare(ctx context.Context, session Session, draftID, idempotencyKey string) (map[string]any, error) {
	idempotencyKey, err := validKey(idempotencyKey)
	if err != nil {
		return nil, err
	}

	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionRead); err != nil {
		return nil, err
	}

	if err := s.appendEvent(ctx, store.Event{
		DraftID:        draft.ID,
		Type:           store.EventDraftShared,
		ActorID:        session.UserID,
		Timestamp:      s.now().UTC(),
		IdempotencyKey: "draft_shared:" + draft.ID + ":" + idempotencyKey,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) DraftAnalytics(ctx context.Context, session Session, draftID string, now time.Time) (analytics.DraftAnalytics, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return analytics.DraftAnalytics{}, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionRead); err != nil {
		return analytics.DraftAnalytics{}, err
	}
	events, err := s.store.ListDraftEvents(ctx, draft.ID, 0)
	if err != nil {
		return analytics.DraftAnalytics{}, err
	}
	return analytics.ReduceDraftAnalytics(draft.ID, events, now)
}

func (s *Service) DraftInsights(ctx context.Context, session Session, draftID string, now time.Time) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionRead); err != nil {
		return nil, err
	}
	return map[string]any{
		"draftId": draft.ID,
		"asOf":    now.UTC(),
		"alerts":  insights.Evaluate(draft, now),
	}, nil
}

func (s *Service) ListDraftEvents(ctx context.Context, session Session, draftID string, limit int) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionRead); err != nil {
		return nil, err
	}
	events, err := s.store.ListDraftEvents(ctx, draft.ID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"id":            event.ID,
			"type":          event.Type,
			"schemaVersion": event.SchemaVersion,
			"actorDisplay":  identity.DisplayFor(event.ActorID),
			"timestamp":     event.Timestamp,
			"payload":       event.Payload,
		})
	}
	return map[string]any{"events": items}, nil
}

func (s *Service) UserAnalytics(ctx context.Context, session Session, now time.Time) (analytics.UserAnalytics, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return analytics.UserAnalytics{}, err
	}
	return analytics.ReduceUserAnalytics(session.UserID, events, now)
}

func (s *Service) Leaderboard(ctx context.Context, metric string, now time.Time) (map[string]any, error) {
	if metric == "" {
		metric = analytics.MetricContribution
	}
	if metric != analytics.MetricContribution && metric != analytics.MetricDrafts {
		return nil, validationError("metric must be contribution or drafts")
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := analytics.ReduceLeaderboard(metric, events, now)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"metric":  metric,
		"asOf":    now.UTC(),
		"entries": entries,
	}, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) appendEvent(ctx context.Context, event store.Event) error {
	event.SchemaVersion = store.EventSchemaVersion
	_, _, err := s.store.AppendEvent(ctx, event)
	return err
}

func (s *Service) requireActive(draft store.Draft) error {
	if draft.Status != store.DraftActive {
		return validationError("draft is not active")
	}
	return nil
}

func (s *Service) requireRole(draft store.Draft, userID string, action roles.Action) error {
	role := collaboratorRole(draft, userID)
	if role == "" {
		return permissionDenied("not a collaborator on this draft")
	}
	if !roles.Can(roles.Normalize(role), action) {
		return permissionDenied("role does not allow this action")
	}
	return nil
}

func collaboratorRole(draft store.Draft, userID string) string {
	for _, collaborator := range draft.Collaborators {
		if collaborator.UserID == userID {
			return collaborator.Role
		}
	}
	return ""
}

func validKey(idempotencyKey string) (string, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return "", validationError("idempotencyKey is required")
	}
	if len(key) > maxKeyLength {
		return "", validationError(fmt.Sprintf("idempotencyKey must be at most %d characters", maxKeyLength))
	}
	return key, nil
}

func (s *Service) archiveDraft(draft store.Draft, completedAt time.Time) {
	if s.archive == nil {
		return
	}
	snapshot := archive.Snapshot{
		DraftID:     draft.ID,
		Title:       draft.Title,
		Platform:    draft.Platform,
		CompletedAt: completedAt,
	}
	for _, segment := range draft.Segments {
		snapshot.Segments = append(snapshot.Segments, archive.SnapshotSegment{
			Order:         segment.Order,
			AuthorDisplay: segment.AuthorDisplay,
			Content:       segment.Content,
			CreatedAt:     segment.CreatedAt,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.archive.StoreSnapshot(ctx, snapshot); err != nil {
			log.Printf("archive draft %s: %v", draft.ID, err)
		}
	}()
}

func (s *Service) indexDraft(draft store.Draft) {
	if s.search == nil {
		return
	}
	s.search.IndexDraft(search.DraftRecord{
		ID:       draft.ID,
		Title:    draft.Title,
		Platform: draft.Platform,
		Status:   draft.Status,
	})
}

func (s *Service) indexSegment(segment store.Segment) {
	if s.search == nil {
		return
	}
	s.search.IndexSegment(search.SegmentRecord{
		ID:            segment.ID,
		DraftID:       segment.DraftID,
		Content:       segment.Content,
		AuthorDisplay: segment.AuthorDisplay,
	})
}

func (s *Service) draftSummary(draft store.Draft, now time.Time) map[string]any {
	return map[string]any{
		"id":                draft.ID,
		"title":             draft.Title,
		"platform":          draft.Platform,
		"status":            draft.Status,
		"creatorId":         draft.CreatorID,
		"ringHolderId":      draft.RingHolderID,
		"ringHolderDisplay": identity.DisplayFor(draft.RingHolderID),
		"lastPassedAt":      draft.LastPassedAt,
		"createdAt":         draft.CreatedAt,
		"updatedAt":         draft.UpdatedAt,
		"segmentCount":      draft.SegmentCount,
	}
}

func (s *Service) draftPayload(draft store.Draft, now time.Time) map[string]any {
	payload := s.draftSummary(draft, now)

	segments := make([]map[string]any, 0, len(draft.Segments))
	for _, segment := range draft.Segments {
		segments = append(segments, map[string]any{
			"id":                segment.ID,
			"order":             segment.Order,
			"content":           segment.Content,
			"authorDisplay":     segment.AuthorDisplay,
			"ringHolderDisplay": segment.RingHolderDisplay,
			"createdAt":         segment.CreatedAt,
		})
	}
	payload["segments"] = segments

	collaborators := make([]map[string]any, 0, len(draft.Collaborators))
	for _, collaborator := range draft.Collaborators {
		collaborators = append(collaborators, map[string]any{
			"userId":  collaborator.UserID,
			"display": identity.DisplayFor(collaborator.UserID),
			"role":    collaborator.Role,
			"addedAt": collaborator.AddedAt,
		})
	}
	payload["collaborators"] = collaborators

	holders := make([]string, 0, len(draft.HoldersHistory))
	for _, holder := range draft.HoldersHistory {
		holders = append(holders, identity.DisplayFor(holder))
	}
	payload["holdersHistory"] = holders

	invites := make([]map[string]any, 0, len(draft.PendingInvites))
	for _, invite := range draft.PendingInvites {
		invites = append(invites, invitePayload(invite, now))
	}
	payload["pendingInvites"] = invites

	return payload
}

// invitePayload derives status at read time and never includes token material.
func invitePayload(invite store.Invite, now time.Time) map[string]any {
	return map[string]any{
		"id":            invite.ID,
		"draftId":       invite.DraftID,
		"targetDisplay": identity.DisplayFor(invite.TargetUserID),
		"status":        invite.StatusAt(now),
		"expiresAt":     invite.ExpiresAt,
		"createdAt":     invite.CreatedAt,
	}
}
