package store

import "time"

type User struct {
	ID        string
	Handle    string
	Status    string
	CreatedAt time.Time
}

const (
	DraftActive    = "ACTIVE"
	DraftLocked    = "LOCKED"
	DraftCompleted = "COMPLETED"
)

type Draft struct {
	ID              string
	CreatorID       string
	Title           string
	Platform        string
	Status          string
	RingHolderID    string
	HoldersHistory  []string
	LastPassedAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	TargetPublishAt *time.Time
	SegmentCount    int
	Segments        []Segment
	Collaborators   []Collaborator
	PendingInvites  []Invite
}

// Segment content is immutable once appended. Order is dense from zero and
// assigned by the store, never by the caller.
type Segment struct {
	ID                string
	DraftID           string
	AuthorUserID      string
	Content           string
	Order             int
	AuthorDisplay     string
	RingHolderDisplay string
	IdempotencyKey    string
	CreatedAt         time.Time
}

type Collaborator struct {
	DraftID string
	UserID  string
	Role    string
	AddedAt time.Time
}

const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteRevoked  = "revoked"
	InviteExpired  = "expired"
)

// Invite stores only the hash of its acceptance token. The raw token exists
// transiently at issuance and is never persisted.
type Invite struct {
	ID             string
	DraftID        string
	TargetUserID   string
	TokenHash      string
	Status         string
	ExpiresAt      time.Time
	CreatedBy      string
	CreatedAt      time.Time
	IdempotencyKey string
}

// StatusAt derives the effective status at a reference time. Expiry is a
// read-time comparison, not a background sweep, so reads can never race one.
func (i Invite) StatusAt(now time.Time) string {
	if i.Status == InvitePending && now.After(i.ExpiresAt) {
		return InviteExpired
	}
	return i.Status
}

const EventSchemaVersion = 1

const (
	EventDraftCreated   = "draft_created"
	EventSegmentAdded   = "segment_added"
	EventRingPassed     = "ring_passed"
	EventInviteCreated  = "invite_created"
	EventInviteAccepted = "invite_accepted"
	EventInviteRevoked  = "invite_revoked"
	EventDraftViewed    = "draft_viewed"
	EventDraftShared    = "draft_shared"
	EventDraftCompleted = "draft_completed"
)

// Event rows are append-only; a replayed idempotency key returns the prior
// row instead of appending a second one.
type Event struct {
	ID             int64
	DraftID        string
	Type           string
	SchemaVersion  int
	ActorID        string
	Timestamp      time.Time
	Payload        map[string]any
	IdempotencyKey string
}
