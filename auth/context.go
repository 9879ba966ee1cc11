package auth

import (
	"context"

	"civictrack/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID primitive.ObjectID
	Role   models.Role
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns nil for anonymous requests.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// CanViewDetail reports whether p sees the full issue rather than its public summary.
func CanViewDetail(p *Principal, issue *models.Issue) bool {
	if p == nil {
		return false
	}
	return p.Role.HandlesIssues() || issue.IsOwnedBy(p.UserID)
}
