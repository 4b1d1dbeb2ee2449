package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"relay/api/internal/store"
)

func TestCreateInviteReturnsTokenExactlyOnce(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	payload, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-1")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	token, ok := payload["token"].(string)
	if !ok || token == "" {
		t.Fatal("first creation must return the raw token")
	}

	replay, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-1")
	if err != nil {
		t.Fatalf("replay create invite: %v", err)
	}
	if replay["created"] != false {
		t.Error("replay should report created=false")
	}
	if _, present := replay["token"]; present {
		t.Error("replay must not return the raw token again")
	}
}

func TestCreateInviteRejectsSelfAndExistingCollaborators(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	_, err := svc.CreateInvite(ctx, carol, draftID, "@carol", 0, "inv-1")
	assertDomainCode(t, err, "INVALID_RECIPIENT")

	if err := ms.AddCollaborator(ctx, store.Collaborator{DraftID: draftID, UserID: xavier.UserID, Role: "collaborator"}); err != nil {
		t.Fatal(err)
	}
	_, err = svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-2")
	assertDomainCode(t, err, "INVALID_RECIPIENT")

	_, err = svc.CreateInvite(ctx, carol, draftID, "@dana", 999, "inv-3")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateInviteRequiresCreatorOrHolder(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")
	if err := ms.AddCollaborator(ctx, store.Collaborator{DraftID: draftID, UserID: xavier.UserID, Role: "collaborator"}); err != nil {
		t.Fatal(err)
	}

	// Xavier is a collaborator but neither creator nor holder.
	_, err := svc.CreateInvite(ctx, xavier, draftID, "@dana", 0, "inv-1")
	assertDomainCode(t, err, "PERMISSION_DENIED")

	if _, err := svc.PassRing(ctx, carol, draftID, xavier.UserID, "p1"); err != nil {
		t.Fatalf("pass ring: %v", err)
	}
	if _, err := svc.CreateInvite(ctx, xavier, draftID, "@dana", 0, "inv-2"); err != nil {
		t.Fatalf("holder should be able to invite: %v", err)
	}
}

func TestAcceptInviteFlow(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	payload, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-1")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	inviteID := payload["invite"].(map[string]any)["id"].(string)
	token := payload["token"].(string)

	_, err = svc.AcceptInvite(ctx, xavier, inviteID, "wrong-token")
	assertDomainCode(t, err, "INVALID_TOKEN")

	// Issued for xavier, not dana.
	_, err = svc.AcceptInvite(ctx, sessionFor("@dana"), inviteID, token)
	assertDomainCode(t, err, "PERMISSION_DENIED")

	accepted, err := svc.AcceptInvite(ctx, xavier, inviteID, token)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted["accepted"] != true {
		t.Error("expected accepted=true")
	}
	draft, err := ms.GetDraft(ctx, draftID)
	if err != nil {
		t.Fatal(err)
	}
	if collaboratorRole(draft, xavier.UserID) != "collaborator" {
		t.Error("accept should add xavier as collaborator")
	}

	// Replayed accept is a no-op, not an error.
	replay, err := svc.AcceptInvite(ctx, xavier, inviteID, token)
	if err != nil {
		t.Fatalf("replay accept: %v", err)
	}
	if replay["accepted"] != false {
		t.Error("replay should report accepted=false")
	}
	if n := ms.eventCount(draftID, store.EventInviteAccepted); n != 1 {
		t.Errorf("expected one invite_accepted event, got %d", n)
	}
}

func TestAcceptInviteExpiry(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	payload, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 2, "inv-1")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	inviteID := payload["invite"].(map[string]any)["id"].(string)
	token := payload["token"].(string)

	clk.Advance(3 * time.Hour)
	_, err = svc.AcceptInvite(ctx, xavier, inviteID, token)
	assertDomainCode(t, err, "EXPIRED")
}

func TestRevokeInvite(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	payload, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-1")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	inviteID := payload["invite"].(map[string]any)["id"].(string)
	token := payload["token"].(string)

	// Only the creator may revoke.
	_, err = svc.RevokeInvite(ctx, xavier, inviteID, "rev-1")
	assertDomainCode(t, err, "PERMISSION_DENIED")

	if _, err := svc.RevokeInvite(ctx, carol, inviteID, "rev-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, err = svc.AcceptInvite(ctx, xavier, inviteID, token)
	assertDomainCode(t, err, "ALREADY_REVOKED")

	// Retrying the revoke that won gets its prior result, not an error.
	replay, err := svc.RevokeInvite(ctx, carol, inviteID, "rev-1")
	if err != nil {
		t.Fatalf("replay revoke: %v", err)
	}
	if replay["invite"].(map[string]any)["status"] != store.InviteRevoked {
		t.Errorf("replay status = %v, want revoked", replay["invite"].(map[string]any)["status"])
	}

	// A second revoke under a fresh key is a real conflict.
	_, err = svc.RevokeInvite(ctx, carol, inviteID, "rev-2")
	assertDomainCode(t, err, "ALREADY_REVOKED")

	if n := ms.eventCount(draftID, store.EventInviteRevoked); n != 1 {
		t.Errorf("expected one invite_revoked event, got %d", n)
	}
}

func TestRevokeDoesNotRemoveAcceptedCollaborators(t *testing.T) {
	svc, ms, _ := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	xavier := sessionFor("@xavier")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	payload, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-1")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	inviteID := payload["invite"].(map[string]any)["id"].(string)
	if _, err := svc.AcceptInvite(ctx, xavier, inviteID, payload["token"].(string)); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err = svc.RevokeInvite(ctx, carol, inviteID, "rev-1")
	assertDomainCode(t, err, "VALIDATION_ERROR")

	draft, err := ms.GetDraft(ctx, draftID)
	if err != nil {
		t.Fatal(err)
	}
	if collaboratorRole(draft, xavier.UserID) == "" {
		t.Error("accepted collaborator must keep membership")
	}
}

func TestInviteResponsesNeverCarryTokenHash(t *testing.T) {
	svc, ms, clk := newTestService()
	ctx := context.Background()
	carol := sessionFor("@carol")
	draftID := mustCreateDraft(t, svc, carol, "Launch thread")

	payload, err := svc.CreateInvite(ctx, carol, draftID, "@xavier", 0, "inv-1")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	inviteID := payload["invite"].(map[string]any)["id"].(string)
	hash := ms.invites[inviteID].TokenHash
	if hash == "" {
		t.Fatal("invite should store a token hash")
	}

	draftView, err := svc.GetDraft(ctx, carol, draftID, clk.Now())
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	for name, view := range map[string]any{"invite": payload["invite"], "draft": draftView} {
		encoded, err := json.Marshal(view)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		if strings.Contains(string(encoded), hash) {
			t.Errorf("%s response leaks the token hash", name)
		}
		if strings.Contains(string(encoded), "tokenHash") {
			t.Errorf("%s response carries a tokenHash field", name)
		}
	}
}
