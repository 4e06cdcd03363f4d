package rbac

import "strings"

type Role string
type Action string

const (
	RoleMember   Role = "member"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	ActionSubmit  Action = "submit"
	ActionComment Action = "comment"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionSubmit || action == ActionComment || action == ActionReject
	case RoleMember:
		return action == ActionSubmit || action == ActionComment
	default:
		return false
	}
}

// RoleFromGroups maps forum group membership to a role. Membership in
// adminGroup is the only path to RoleAdmin; moderators review but cannot
// approve.
func RoleFromGroups(groups []string, adminGroup string) Role {
	role := RoleMember
	for _, group := range groups {
		switch {
		case group == adminGroup:
			return RoleAdmin
		case strings.EqualFold(group, "moderators"):
			role = RoleReviewer
		}
	}
	return role
}
