package auth

import (
	"fmt"
	"sync"

	"civictrack/apperrors"
	"civictrack/models"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Action string

const (
	ActionIssueCreate     Action = "issue:create"
	ActionIssueComment    Action = "issue:comment"
	ActionIssueVote       Action = "issue:vote"
	ActionStatsOwn        Action = "stats:own"
	ActionProfileEdit     Action = "profile:edit"
	ActionIssueTransition Action = "issue:transition"
	ActionIssueAssign     Action = "issue:assign"
	ActionIssueListAll    Action = "issue:list-all"
	ActionStatsAll        Action = "stats:all"
	ActionIssueDelete     Action = "issue:delete"
	ActionIssueReopen     Action = "issue:reopen"
	ActionUserList        Action = "user:list"
	ActionUserManage      Action = "user:manage"
)

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

// Each role inherits every action of the role before it.
var rolePolicies = []struct {
	role     models.Role
	inherits models.Role
	actions  []Action
}{
	{models.RoleCitizen, "", []Action{ActionIssueCreate, ActionIssueComment, ActionIssueVote, ActionStatsOwn, ActionProfileEdit}},
	{models.RoleStaff, models.RoleCitizen, []Action{ActionIssueTransition, ActionIssueAssign, ActionIssueListAll, ActionStatsAll}},
	{models.RoleAdmin, models.RoleStaff, []Action{ActionIssueDelete, ActionIssueReopen, ActionUserList, ActionUserManage}},
}

// Gate decides role permissions.
type Gate struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewGate() (*Gate, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	for _, rp := range rolePolicies {
		for _, a := range rp.actions {
			if _, err := enforcer.AddPolicy(string(rp.role), string(a)); err != nil {
				return nil, fmt.Errorf("failed to add policy: %w", err)
			}
		}
		if rp.inherits != "" {
			if _, err := enforcer.AddGroupingPolicy(string(rp.role), string(rp.inherits)); err != nil {
				return nil, fmt.Errorf("failed to add role inheritance: %w", err)
			}
		}
	}
	return &Gate{enforcer: enforcer}, nil
}

func (g *Gate) Can(role models.Role, action Action) bool {
	if !role.IsValid() {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	ok, err := g.enforcer.Enforce(string(role), string(action))
	return err == nil && ok
}

// Require fails with MissingToken for anonymous callers and Forbidden
// when the role lacks the action.
func (g *Gate) Require(p *Principal, action Action) error {
	if p == nil {
		return apperrors.NewMissingTokenError()
	}
	if !g.Can(p.Role, action) {
		return apperrors.NewForbiddenError("")
	}
	return nil
}

// Permissions lists every action the role may perform.
func (g *Gate) Permissions(role models.Role) []Action {
	out := make([]Action, 0)
	for _, rp := range rolePolicies {
		for _, a := range rp.actions {
			if g.Can(role, a) {
				out = append(out, a)
			}
		}
	}
	return out
}
