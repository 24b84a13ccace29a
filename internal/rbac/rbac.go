// Package rbac decides which record actions a role may take.
package rbac

import "strings"

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionAnalyze Action = "analyze"
	ActionAdmin   Action = "admin"
)

var grants = map[Role][]Action{
	RoleViewer: {ActionRead},
	RoleEditor: {ActionRead, ActionWrite, ActionAnalyze},
	RoleAdmin:  {ActionRead, ActionWrite, ActionAnalyze, ActionAdmin},
}

// Can reports whether role may perform action. Unknown roles may do nothing.
func Can(role Role, action Action) bool {
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

// Actions lists what role may do, for session responses.
func Actions(role Role) []Action {
	return append([]Action(nil), grants[role]...)
}

// Normalize maps stored role text onto a known role, defaulting to viewer.
func Normalize(role string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(role)))
	if _, ok := grants[r]; ok {
		return r
	}
	return RoleViewer
}
