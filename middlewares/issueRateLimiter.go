package middlewares

import (
	"math"
	"strconv"

	"civictrack/apperrors"
	"civictrack/ratelimit"
	"civictrack/utils"

	"github.com/gin-gonic/gin"
)

// IssueRateLimiter caps issue creation per user. It must run after AuthMiddleware.
func IssueRateLimiter(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			utils.ErrorResponseWithError(c, apperrors.NewMissingTokenError())
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			utils.ErrorResponseWithError(c, apperrors.NewInternalError(err))
			return
		}

		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
			utils.ErrorResponseWithError(c, apperrors.NewRateLimitedError(
				"You have reached the daily limit for reporting issues, try again in "+strconv.Itoa(seconds)+" seconds"))
			return
		}

		c.Next()
	}
}
