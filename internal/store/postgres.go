package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRingConflict is returned when a ring pass loses the compare-and-set on
// the current holder. The service treats it as a permission failure.
var ErrRingConflict = errors.New("ring holder changed")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID, handle string) (User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, handle, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (id) DO NOTHING
	`, userID, handle)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}

	var user User
	err = s.db.QueryRowContext(ctx, `
		SELECT id, handle, status, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Handle, &user.Status, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, status, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Handle, &user.Status, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertDraft(ctx context.Context, draft Draft) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert draft: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO drafts (id, creator_id, title, platform, status, ring_holder_id, last_passed_at, target_publish_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, draft.ID, draft.CreatorID, draft.Title, draft.Platform, draft.Status, draft.RingHolderID, draft.LastPassedAt, draft.TargetPublishAt, draft.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collaborators (draft_id, user_id, role, added_at)
		VALUES ($1, $2, 'creator', $3)
		ON CONFLICT (draft_id, user_id) DO NOTHING
	`, draft.ID, draft.CreatorID, draft.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert creator collaborator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, draftID string) (Draft, error) {
	var draft Draft
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator_id, title, platform, status, ring_holder_id, last_passed_at, target_publish_at, created_at, updated_at
		FROM drafts
		WHERE id=$1
	`, draftID).Scan(
		&draft.ID,
		&draft.CreatorID,
		&draft.Title,
		&draft.Platform,
		&draft.Status,
		&draft.RingHolderID,
		&draft.LastPassedAt,
		&draft.TargetPublishAt,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	)
	if err != nil {
		return Draft{}, err
	}

	segments, err := s.listSegments(ctx, draftID)
	if err != nil {
		return Draft{}, err
	}
	draft.Segments = segments
	draft.SegmentCount = len(segments)

	collaborators, err := s.listCollaborators(ctx, draftID)
	if err != nil {
		return Draft{}, err
	}
	draft.Collaborators = collaborators

	history, err := s.holdersHistory(ctx, draftID, draft.CreatorID)
	if err != nil {
		return Draft{}, err
	}
	draft.HoldersHistory = history

	invites, err := s.ListDraftInvites(ctx, draftID)
	if err != nil {
		return Draft{}, err
	}
	pending := make([]Invite, 0, len(invites))
	for _, invite := range invites {
		if invite.Status == InvitePending {
			pending = append(pending, invite)
		}
	}
	draft.PendingInvites = pending

	return draft, nil
}

func (s *PostgresStore) listSegments(ctx context.Context, draftID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, author_user_id, content, seg_order, author_display, ring_holder_display, idempotency_key, created_at
		FROM segments
		WHERE draft_id=$1
		ORDER BY seg_order ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	items := make([]Segment, 0)
	for rows.Next() {
		var item Segment
		if err := rows.Scan(&item.ID, &item.DraftID, &item.AuthorUserID, &item.Content, &item.Order, &item.AuthorDisplay, &item.RingHolderDisplay, &item.IdempotencyKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listCollaborators(ctx context.Context, draftID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT draft_id, user_id, role, added_at
		FROM collaborators
		WHERE draft_id=$1
		ORDER BY added_at ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.DraftID, &item.UserID, &item.Role, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

// holdersHistory reconstructs the ordered holder list: the creator receives
// the ring at creation, every recorded pass appends its recipient.
func (s *PostgresStore) holdersHistory(ctx context.Context, draftID, creatorID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_user_id FROM ring_passes WHERE draft_id=$1 ORDER BY seq ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list ring passes: %w", err)
	}
	defer rows.Close()

	history := []string{creatorID}
	for rows.Next() {
		var holder string
		if err := rows.Scan(&holder); err != nil {
			return nil, fmt.Errorf("scan ring pass: %w", err)
		}
		history = append(history, holder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ring passes: %w", err)
	}
	return history, nil
}

func (s *PostgresStore) ListDraftsForUser(ctx context.Context, userID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.creator_id, d.title, d.platform, d.status, d.ring_holder_id, d.last_passed_at, d.created_at, d.updated_at,
			(SELECT COUNT(*) FROM segments sg WHERE sg.draft_id = d.id) AS segment_count
		FROM drafts d
		JOIN collaborators c ON c.draft_id = d.id
		WHERE c.user_id = $1
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		var item Draft
		if err := rows.Scan(&item.ID, &item.CreatorID, &item.Title, &item.Platform, &item.Status, &item.RingHolderID, &item.LastPassedAt, &item.CreatedAt, &item.UpdatedAt, &item.SegmentCount); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return items, nil
}

// AppendSegment inserts a segment with a store-assigned dense order. The
// unique (draft_id, idempotency_key) constraint makes retries no-ops; the
// returned bool reports whether a new row was created.
func (s *PostgresStore) AppendSegment(ctx context.Context, segment Segment) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin append segment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO segments (id, draft_id, author_user_id, content, seg_order, author_display, ring_holder_display, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4,
			(SELECT COUNT(*) FROM segments WHERE draft_id = $2),
			$5, $6, $7, $8)
		ON CONFLICT (draft_id, idempotency_key) DO NOTHING
	`, segment.ID, segment.DraftID, segment.AuthorUserID, segment.Content, segment.AuthorDisplay, segment.RingHolderDisplay, segment.IdempotencyKey, segment.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert segment: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("segment rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE drafts SET updated_at=$2 WHERE id=$1
	`, segment.DraftID, segment.CreatedAt); err != nil {
		return false, fmt.Errorf("touch draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit append segment: %w", err)
	}
	return true, nil
}

// PassRing records a pass and moves the ring. The pass row carries the
// idempotency key; the holder update is conditional on fromUserID still
// holding the ring, so a lost race surfaces as ErrRingConflict instead of a
// double transfer.
func (s *PostgresStore) PassRing(ctx context.Context, draftID, fromUserID, toUserID, idempotencyKey string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin pass ring: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ring_passes (draft_id, from_user_id, to_user_id, idempotency_key, passed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (draft_id, idempotency_key) DO NOTHING
	`, draftID, fromUserID, toUserID, idempotencyKey, now)
	if err != nil {
		return false, fmt.Errorf("insert ring pass: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ring pass rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	updated, err := tx.ExecContext(ctx, `
		UPDATE drafts
		SET ring_holder_id=$3, last_passed_at=$4, updated_at=$4
		WHERE id=$1 AND ring_holder_id=$2
	`, draftID, fromUserID, toUserID, now)
	if err != nil {
		return false, fmt.Errorf("update ring holder: %w", err)
	}
	moved, err := updated.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ring holder rows affected: %w", err)
	}
	if moved == 0 {
		return false, ErrRingConflict
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit pass ring: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) AddCollaborator(ctx context.Context, collaborator Collaborator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborators (draft_id, user_id, role, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (draft_id, user_id) DO NOTHING
	`, collaborator.DraftID, collaborator.UserID, collaborator.Role, collaborator.AddedAt)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDraftCompleted(ctx context.Context, draftID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4
	`, draftID, DraftCompleted, now, DraftActive)
	if err != nil {
		return false, fmt.Errorf("complete draft: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete draft rows affected: %w", err)
	}
	return updated > 0, nil
}

// InsertInvite is idempotent on (draft_id, idempotency_key); a replay returns
// the stored invite and created=false.
func (s *PostgresStore) InsertInvite(ctx context.Context, invite Invite) (Invite, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (id, draft_id, target_user_id, token_hash, status, expires_at, created_by, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (draft_id, idempotency_key) DO NOTHING
	`, invite.ID, invite.DraftID, invite.TargetUserID, invite.TokenHash, invite.Status, invite.ExpiresAt, invite.CreatedBy, invite.IdempotencyKey, invite.CreatedAt)
	if err != nil {
		return Invite{}, false, fmt.Errorf("insert invite: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return Invite{}, false, fmt.Errorf("invite rows affected: %w", err)
	}
	if inserted > 0 {
		return invite, true, nil
	}

	var existing Invite
	err = s.db.QueryRowContext(ctx, `
		SELECT id, draft_id, target_user_id, token_hash, status, expires_at, created_by, idempotency_key, created_at
		FROM invites
		WHERE draft_id=$1 AND idempotency_key=$2
	`, invite.DraftID, invite.IdempotencyKey).Scan(
		&existing.ID,
		&existing.DraftID,
		&existing.TargetUserID,
		&existing.TokenHash,
		&existing.Status,
		&existing.ExpiresAt,
		&existing.CreatedBy,
		&existing.IdempotencyKey,
		&existing.CreatedAt,
	)
	if err != nil {
		return Invite{}, false, fmt.Errorf("lookup replayed invite: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (Invite, error) {
	var invite Invite
	err := s.db.QueryRowContext(ctx, `
		SELECT id, draft_id, target_user_id, token_hash, status, expires_at, created_by, idempotency_key, created_at
		FROM invites
		WHERE id=$1
	`, inviteID).Scan(
		&invite.ID,
		&invite.DraftID,
		&invite.TargetUserID,
		&invite.TokenHash,
		&invite.Status,
		&invite.ExpiresAt,
		&invite.CreatedBy,
		&invite.IdempotencyKey,
		&invite.CreatedAt,
	)
	if err != nil {
		return Invite{}, err
	}
	return invite, nil
}

func (s *PostgresStore) ListDraftInvites(ctx context.Context, draftID string) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, target_user_id, status, expires_at, created_by, created_at
		FROM invites
		WHERE draft_id=$1
		ORDER BY created_at ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	// token_hash deliberately not selected: listing paths never need it.
	items := make([]Invite, 0)
	for rows.Next() {
		var item Invite
		if err := rows.Scan(&item.ID, &item.DraftID, &item.TargetUserID, &item.Status, &item.ExpiresAt, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkInviteAccepted(ctx context.Context, inviteID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invites SET status=$2 WHERE id=$1 AND status=$3
	`, inviteID, InviteAccepted, InvitePending)
	if err != nil {
		return false, fmt.Errorf("accept invite: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept invite rows affected: %w", err)
	}
	return updated > 0, nil
}

func (s *PostgresStore) MarkInviteRevoked(ctx context.Context, inviteID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invites SET status=$2 WHERE id=$1 AND status=$3
	`, inviteID, InviteRevoked, InvitePending)
	if err != nil {
		return false, fmt.Errorf("revoke invite: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke invite rows affected: %w", err)
	}
	return updated > 0, nil
}

// AppendEvent appends to the event log. The global unique idempotency_key
// resolves writer contention without locking; a replayed key returns the
// prior event and created=false.
func (s *PostgresStore) AppendEvent(ctx context.Context, event Event) (Event, bool, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return Event{}, false, fmt.Errorf("marshal event payload: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO events (draft_id, event_type, schema_version, actor_id, occurred_at, payload, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, event.DraftID, event.Type, event.SchemaVersion, event.ActorID, event.Timestamp, payload, event.IdempotencyKey).Scan(&id)
	if err == nil {
		event.ID = id
		return event, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, fmt.Errorf("append event: %w", err)
	}

	existing, err := s.getEventByKey(ctx, event.IdempotencyKey)
	if err != nil {
		return Event{}, false, fmt.Errorf("lookup replayed event: %w", err)
	}
	return existing, false, nil
}

// GetEventByKey looks up the event stored under an idempotency key, or
// sql.ErrNoRows when no append used it.
func (s *PostgresStore) GetEventByKey(ctx context.Context, idempotencyKey string) (Event, error) {
	return s.getEventByKey(ctx, idempotencyKey)
}

func (s *PostgresStore) getEventByKey(ctx context.Context, idempotencyKey string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, draft_id, event_type, schema_version, actor_id, occurred_at, payload, idempotency_key
		FROM events
		WHERE idempotency_key=$1
	`, idempotencyKey)
	return scanEvent(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var event Event
	var payload []byte
	if err := row.Scan(&event.ID, &event.DraftID, &event.Type, &event.SchemaVersion, &event.ActorID, &event.Timestamp, &payload, &event.IdempotencyKey); err != nil {
		return Event{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return Event{}, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	return event, nil
}

// ListDraftEvents returns a draft's events in append order. A limit of zero
// or less returns the full log; reducers need every event, not a page.
func (s *PostgresStore) ListDraftEvents(ctx context.Context, draftID string, limit int) ([]Event, error) {
	query := `
		SELECT id, draft_id, event_type, schema_version, actor_id, occurred_at, payload, idempotency_key
		FROM events
		WHERE draft_id=$1
		ORDER BY id ASC
	`
	args := []any{draftID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list draft events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, event_type, schema_version, actor_id, occurred_at, payload, idempotency_key
		FROM events
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	items := make([]Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}
