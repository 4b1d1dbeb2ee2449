package roles

type Role string
type Action string

const (
	RoleCreator      Role = "creator"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

const (
	ActionRead     Action = "read"
	ActionAppend   Action = "append"
	ActionPass     Action = "pass"
	ActionInvite   Action = "invite"
	ActionRevoke   Action = "revoke"
	ActionComplete Action = "complete"
)

// Can reports whether a draft-scoped role allows an action. Append and pass
// are additionally gated by ring ownership; that check lives with the draft
// state, not here.
func Can(role Role, action Action) bool {
	switch role {
	case RoleCreator:
		return true
	case RoleCollaborator:
		return action == ActionRead || action == ActionAppend || action == ActionPass || action == ActionInvite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCreator, RoleCollaborator, RoleViewer:
		return Role(role)
	default:
		return RoleViewer
	}
}
