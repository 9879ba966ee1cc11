package controllers

import (
	"net/http"
	"time"

	"civictrack/services"
	"civictrack/utils"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	identity *services.IdentityService
	timeout  time.Duration
}

func NewAuthController(identity *services.IdentityService, timeout time.Duration) *AuthController {
	return &AuthController{identity: identity, timeout: timeout}
}

type signupRequest struct {
	Name     string `json:"name" binding:"required,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Phone    string `json:"phone"`
	Ward     string `json:"ward"`
}

// Signup registers a citizen and logs them straight in.
func (h *AuthController) Signup(c *gin.Context) {
	var input signupRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	if _, err := h.identity.Register(ctx, services.RegisterInput{
		Name:     input.Name,
		Email:    input.Email,
		Password: input.Password,
		Phone:    input.Phone,
		Ward:     input.Ward,
	}); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	token, user, err := h.identity.Authenticate(ctx, input.Email, input.Password)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.CreatedResponse(c, AuthResponse{Token: token, User: newUserView(user)}, "User registered successfully")
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthController) Login(c *gin.Context) {
	var input loginRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	token, user, err := h.identity.Authenticate(ctx, input.Email, input.Password)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Login successful", AuthResponse{Token: token, User: newUserView(user)})
}

func (h *AuthController) Me(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.identity.GetByID(ctx, principal(c).UserID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.OKResponse(c, newUserView(user))
}

type profileRequest struct {
	Name            *string `json:"name" binding:"omitempty,max=50"`
	Email           *string `json:"email" binding:"omitempty,email"`
	Phone           *string `json:"phone"`
	Ward            *string `json:"ward"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword" binding:"omitempty,min=6"`
}

func (h *AuthController) UpdateMe(c *gin.Context) {
	var input profileRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.identity.UpdateProfile(ctx, principal(c).UserID, services.ProfileInput{
		Name:            input.Name,
		Email:           input.Email,
		Phone:           input.Phone,
		Ward:            input.Ward,
		CurrentPassword: input.CurrentPassword,
		NewPassword:     input.NewPassword,
	})
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Profile updated", newUserView(user))
}
