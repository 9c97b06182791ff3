// Package ability gates sync endpoints on caller capabilities. Role and
// permission evaluation proper lives upstream in the school management
// backend; this package consumes the roles the gateway forwards and maps
// them onto the handful of actions the sync service exposes.
package ability

import "github.com/darasahq/darasa-sync/internal/types"

// Action names one capability a caller may hold.
type Action string

const (
	SyncPush        Action = "sync:push"
	SyncPull        Action = "sync:pull"
	SyncStatus      Action = "sync:status"
	ConflictView    Action = "conflict:view"
	ConflictResolve Action = "conflict:resolve"
	HistoryPurge    Action = "history:purge"
	SchoolManage    Action = "school:manage"
)

// Checker decides whether a principal may perform an action.
type Checker interface {
	Can(p types.Principal, action Action) bool
}

// AllowAll grants every action. Used in dev mode where the gateway is absent.
type AllowAll struct{}

var _ Checker = AllowAll{}

func (AllowAll) Can(p types.Principal, action Action) bool { return true }

// RoleChecker grants actions per forwarded role. A principal passes when any
// of its roles carries the action.
type RoleChecker struct {
	grants map[string]map[Action]bool
}

var _ Checker = (*RoleChecker)(nil)

// NewRoleChecker returns a checker seeded with the default school roles.
// Students and teachers sync their own data; teachers may additionally purge
// their sync history; admins also manage school provisioning.
func NewRoleChecker() *RoleChecker {
	c := &RoleChecker{grants: make(map[string]map[Action]bool)}
	c.Grant("student", SyncPush, SyncPull, SyncStatus, ConflictView, ConflictResolve)
	c.Grant("teacher", SyncPush, SyncPull, SyncStatus, ConflictView, ConflictResolve, HistoryPurge)
	c.Grant("admin", SyncPush, SyncPull, SyncStatus, ConflictView, ConflictResolve, HistoryPurge, SchoolManage)
	return c
}

// Grant adds actions to a role, creating the role if needed.
func (c *RoleChecker) Grant(role string, actions ...Action) {
	m, ok := c.grants[role]
	if !ok {
		m = make(map[Action]bool)
		c.grants[role] = m
	}
	for _, a := range actions {
		m[a] = true
	}
}

func (c *RoleChecker) Can(p types.Principal, action Action) bool {
	for _, role := range p.Roles {
		if c.grants[role][action] {
			return true
		}
	}
	return false
}
