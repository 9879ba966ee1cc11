package utils

import (
	"log/slog"
	"net/http"

	"civictrack/apperrors"
	"civictrack/logger"

	"github.com/gin-gonic/gin"
)

// LoggerKey is the gin key holding the request-scoped logger.
const LoggerKey = "logger"

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Message string                 `json:"message,omitempty"`
	Code    apperrors.Code         `json:"code,omitempty"`
	Details []apperrors.FieldError `json:"details,omitempty"`
}

// ListResponse is the data of a paginated list.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

// RequestLogger returns the logger attached by the request middleware.
func RequestLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return logger.Get()
}

func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func OKResponse(c *gin.Context, data interface{}) {
	SuccessResponse(c, http.StatusOK, "", data)
}

func CreatedResponse(c *gin.Context, data interface{}, message ...string) {
	msg := "Resource created successfully"
	if len(message) > 0 {
		msg = message[0]
	}
	SuccessResponse(c, http.StatusCreated, msg, data)
}

func ListSuccessResponse(c *gin.Context, items interface{}, total int64, page, limit int) {
	OKResponse(c, ListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: TotalPages(total, limit),
	})
}

// ErrorResponseWithError writes err in the envelope. Internal errors are
// logged with their cause and answered with a generic message.
func ErrorResponseWithError(c *gin.Context, err error) {
	appErr := apperrors.From(err)
	log := RequestLogger(c)
	switch {
	case appErr.Status >= http.StatusInternalServerError:
		log.Error("request failed", "code", appErr.Code, "error", err)
	case appErr.Err != nil:
		log.Debug("request rejected", "code", appErr.Code, "error", appErr.Err)
	}

	c.AbortWithStatusJSON(appErr.Status, APIResponse{
		Success: false,
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}
