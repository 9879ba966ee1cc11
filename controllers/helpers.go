package controllers

import (
	"context"
	"time"

	"civictrack/apperrors"
	"civictrack/auth"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultRequestTimeout applies when a controller is built with a zero timeout.
const DefaultRequestTimeout = 10 * time.Second

func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func principal(c *gin.Context) *auth.Principal {
	return auth.PrincipalFrom(c.Request.Context())
}

// bindJSON decodes the body and turns binding failures into validation errors.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return bindingError(err)
	}
	return nil
}

func bindingError(err error) error {
	if appErr := apperrors.FromValidator(err); appErr != nil {
		return appErr
	}
	return apperrors.NewValidationError("Invalid request body").WithCause(err)
}

// pathID parses the :name parameter. A malformed id cannot exist, so it is a 404.
func pathID(c *gin.Context, name, resource string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		return primitive.NilObjectID, apperrors.NewNotFoundError(resource)
	}
	return id, nil
}

func objectIDField(field, value string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, apperrors.NewFieldError(field, "must be a valid id")
	}
	return id, nil
}
