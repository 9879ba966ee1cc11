package middlewares

import (
	"context"
	"strings"

	"civictrack/apperrors"
	"civictrack/auth"
	"civictrack/utils"

	"github.com/gin-gonic/gin"
)

// PrincipalResolver loads the caller behind verified token claims.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, claims *auth.Claims) (*auth.Principal, error)
}

// AuthMiddleware rejects requests without a valid token for an active user.
func AuthMiddleware(codec *auth.TokenCodec, resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			utils.ErrorResponseWithError(c, apperrors.NewMissingTokenError())
			return
		}

		p, err := authenticate(c, codec, resolver, tokenString)
		if err != nil {
			utils.RequestLogger(c).Debug("token validation failed", "error", err)
			utils.ErrorResponseWithError(c, err)
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a usable token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(codec *auth.TokenCodec, resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := bearerToken(c); tokenString != "" {
			if p, err := authenticate(c, codec, resolver, tokenString); err == nil {
				setPrincipal(c, p)
			}
		}
		c.Next()
	}
}

// RequirePermission must run after AuthMiddleware.
func RequirePermission(gate *auth.Gate, action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := gate.Require(auth.PrincipalFrom(c.Request.Context()), action); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, codec *auth.TokenCodec, resolver PrincipalResolver, tokenString string) (*auth.Principal, error) {
	claims, err := codec.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return resolver.ResolvePrincipal(c.Request.Context(), claims)
}

// bearerToken accepts "Bearer <token>" and a bare token.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func setPrincipal(c *gin.Context, p *auth.Principal) {
	c.Set("user_id", p.UserID.Hex())
	c.Set("user_role", string(p.Role))
	c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
	c.Set(utils.LoggerKey, utils.RequestLogger(c).With("user_id", p.UserID.Hex()))
}
