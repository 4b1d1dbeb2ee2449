package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"relay/api/internal/identity"
	"relay/api/internal/roles"
	"relay/api/internal/store"
	"relay/api/internal/util"
)

// CreateInvite issues a single-use invite for the target handle. Only the
// bcrypt hash of the token is stored; the raw token is returned exactly once,
// on first creation. A replayed idempotency key returns the invite without it.
func (s *Service) CreateInvite(ctx context.Context, session Session, draftID, target string, ttlHours int, idempotencyKey string) (map[string]any, error) {
	idempotencyKey, err := validKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	targetID := identity.Resolve(target)
	if targetID == "" {
		return nil, validationError("target is required")
	}
	if len(identity.Normalize(target)) > maxHandleLength {
		return nil, validationError(fmt.Sprintf("target must be at most %d characters", maxHandleLength))
	}
	if ttlHours == 0 {
		ttlHours = defaultInviteTTLHours
	}
	if ttlHours < 1 || ttlHours > maxInviteTTLHours {
		return nil, validationError(fmt.Sprintf("ttlHours must be between 1 and %d", maxInviteTTLHours))
	}

	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(draft); err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionInvite); err != nil {
		return nil, err
	}
	// Invites come from whoever is driving the draft right now.
	if session.UserID != draft.CreatorID && session.UserID != draft.RingHolderID {
		return nil, permissionDenied("only the creator or current ring holder may invite")
	}
	if targetID == session.UserID {
		return nil, invalidRecipient("cannot invite yourself")
	}
	if collaboratorRole(draft, targetID) != "" {
		return nil, invalidRecipient("target is already a collaborator")
	}

	rawToken := util.NewID("ivt") + util.NewID("")
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(rawToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash invite token: %w", err)
	}

	now := s.now().UTC()
	invite := store.Invite{
		ID:             util.NewID("inv"),
		DraftID:        draft.ID,
		TargetUserID:   targetID,
		TokenHash:      string(tokenHash),
		Status:         store.InvitePending,
		ExpiresAt:      now.Add(time.Duration(ttlHours) * time.Hour),
		CreatedBy:      session.UserID,
		CreatedAt:      now,
		IdempotencyKey: idempotencyKey,
	}
	stored, created, err := s.store.InsertInvite(ctx, invite)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"invite":  invitePayload(stored, now),
		"created": created,
	}
	if !created {
		return payload, nil
	}

	if err := s.appendEvent(ctx, store.Event{
		DraftID:        draft.ID,
		Type:           store.EventInviteCreated,
		ActorID:        session.UserID,
		Timestamp:      now,
		Payload:        map[string]any{"inviteId": stored.ID},
		IdempotencyKey: "invite_created:" + draft.ID + ":" + idempotencyKey,
	}); err != nil {
		return nil, err
	}

	acceptURL := s.inviteAcceptURL(stored.ID, rawToken)
	if s.email != nil && s.email.IsConfigured() && looksLikeEmail(target) {
		if err := s.email.SendInviteEmail(identity.Normalize(target), draft.Title, acceptURL, stored.ExpiresAt); err != nil {
			log.Printf("send invite email for %s: %v", stored.ID, err)
		}
	}

	payload["token"] = rawToken
	payload["acceptUrl"] = acceptURL
	return payload, nil
}

// AcceptInvite exchanges a raw token for collaborator membership. Acceptance
// is idempotent: re-accepting an already accepted invite succeeds without a
// second collaborator row or event.
func (s *Service) AcceptInvite(ctx context.Context, session Session, inviteID, rawToken string) (map[string]any, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, invalidInviteToken()
	}

	invite, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(invite.TokenHash), []byte(rawToken)) != nil {
		return nil, invalidInviteToken()
	}
	if invite.TargetUserID != session.UserID {
		return nil, permissionDenied("invite was issued for a different user")
	}

	now := s.now().UTC()
	switch invite.StatusAt(now) {
	case store.InviteExpired:
		return nil, inviteExpired()
	case store.InviteRevoked:
		return nil, alreadyRevoked()
	case store.InviteAccepted:
		return map[string]any{"invite": invitePayload(invite, now), "accepted": false}, nil
	}

	accepted, err := s.store.MarkInviteAccepted(ctx, invite.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddCollaborator(ctx, store.Collaborator{
		DraftID: invite.DraftID,
		UserID:  invite.TargetUserID,
		Role:    string(roles.RoleCollaborator),
		AddedAt: now,
	}); err != nil {
		return nil, err
	}
	if accepted {
		if err := s.appendEvent(ctx, store.Event{
			DraftID:        invite.DraftID,
			Type:           store.EventInviteAccepted,
			ActorID:        session.UserID,
			Timestamp:      now,
			Payload:        map[string]any{"inviteId": invite.ID},
			IdempotencyKey: "invite_accepted:" + invite.ID,
		}); err != nil {
			return nil, err
		}
	}

	invite.Status = store.InviteAccepted
	return map[string]any{"invite": invitePayload(invite, now), "accepted": accepted}, nil
}

// RevokeInvite blocks future acceptance of a pending invite. Collaborators who
// already accepted keep their membership.
func (s *Service) RevokeInvite(ctx context.Context, session Session, inviteID, idempotencyKey string) (map[string]any, error) {
	idempotencyKey, err := validKey(idempotencyKey)
	if err != nil {
		return nil, err
	}

	invite, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	draft, err := s.store.GetDraft(ctx, invite.DraftID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(draft, session.UserID, roles.ActionRevoke); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	eventKey := "invite_revoked:" + invite.ID + ":" + idempotencyKey
	switch invite.StatusAt(now) {
	case store.InviteRevoked:
		// A retry of the revoke that succeeded gets its prior result back;
		// only a distinct second revoke is ALREADY_REVOKED.
		if _, err := s.store.GetEventByKey(ctx, eventKey); err == nil {
			return map[string]any{"invite": invitePayload(invite, now)}, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, alreadyRevoked()
	case store.InviteAccepted:
		return nil, validationError("invite was already accepted")
	case store.InviteExpired:
		return nil, inviteExpired()
	}

	revoked, err := s.store.MarkInviteRevoked(ctx, invite.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		if err := s.appendEvent(ctx, store.Event{
			DraftID:        invite.DraftID,
			Type:           store.EventInviteRevoked,
			ActorID:        session.UserID,
			Timestamp:      now,
			Payload:        map[string]any{"inviteId": invite.ID},
			IdempotencyKey: eventKey,
		}); err != nil {
			return nil, err
		}
	}

	invite.Status = store.InviteRevoked
	return map[string]any{"invite": invitePayload(invite, now)}, nil
}

func (s *Service) inviteAcceptURL(inviteID, rawToken string) string {
	base := strings.TrimRight(s.cfg.InviteBaseURL, "/")
	return fmt.Sprintf("%s/invites/%s/accept?token=%s", base, inviteID, url.QueryEscape(rawToken))
}

func looksLikeEmail(target string) bool {
	normalized := identity.Normalize(target)
	at := strings.Index(normalized, "@")
	return at > 0 && at < len(normalized)-1
}
