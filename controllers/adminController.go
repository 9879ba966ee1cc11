package controllers

import (
	"net/http"
	"strconv"
	"time"

	"civictrack/apperrors"
	"civictrack/models"
	"civictrack/services"
	"civictrack/store"
	"civictrack/utils"

	"github.com/gin-gonic/gin"
)

// AdminController serves the staff dashboard and user management.
type AdminController struct {
	lifecycle *services.LifecycleEngine
	query     *services.QueryService
	identity  *services.IdentityService
	markdown  *utils.MarkdownRenderer
	timeout   time.Duration
}

func NewAdminController(lifecycle *services.LifecycleEngine, query *services.QueryService, identity *services.IdentityService, timeout time.Duration) *AdminController {
	return &AdminController{
		lifecycle: lifecycle,
		query:     query,
		identity:  identity,
		markdown:  utils.NewMarkdownRenderer(),
		timeout:   timeout,
	}
}

// Issues lists every issue, with owner and assignee filters on top of the public ones.
func (h *AdminController) Issues(c *gin.Context) {
	params := listParams(c)
	var err error
	if params.OwnerID, err = parseOptionalID(c, "createdBy"); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if params.AssignedTo, err = parseOptionalID(c, "assignedTo"); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	list, err := h.query.AdminList(ctx, principal(c), params)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	writeIssueList(c, list)
}

type assignRequest struct {
	AssignedTo string `json:"assignedTo" binding:"required"`
	Note       string `json:"note"`
}

func (h *AdminController) Assign(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	var input assignRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	assignee, err := objectIDField("assignedTo", input.AssignedTo)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	issue, err := h.lifecycle.Assign(ctx, principal(c), id, assignee, input.Note)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Issue assigned", issueDetailFromModel(issue, h.markdown))
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (h *AdminController) SetStatus(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	var input statusRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	issue, err := h.lifecycle.Update(ctx, principal(c), id, services.UpdateIssueInput{Status: input.Status, Note: input.Note})
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Issue status updated", issueDetailFromModel(issue, h.markdown))
}

func (h *AdminController) Stats(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	stats, err := h.query.GlobalStats(ctx, principal(c))
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.OKResponse(c, StatsResponse{IssueStats: stats, Recent: newIssueSummaries(stats.Recent)})
}

func (h *AdminController) Users(c *gin.Context) {
	var filter store.UserFilter
	if raw := c.Query("role"); raw != "" && raw != "all" {
		role, err := models.ParseRole(raw)
		if err != nil {
			utils.ErrorResponseWithError(c, apperrors.NewFieldError("role", "must be one of: citizen, staff, admin"))
			return
		}
		filter.Role = role
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			utils.ErrorResponseWithError(c, apperrors.NewFieldError("active", "must be true or false"))
			return
		}
		filter.Active = &active
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	users, err := h.identity.ListUsers(ctx, filter)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.OKResponse(c, newUserViews(users))
}

type createUserRequest struct {
	Name       string `json:"name" binding:"required,max=50"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	Role       string `json:"role" binding:"required"`
	Phone      string `json:"phone"`
	Ward       string `json:"ward"`
	Department string `json:"department"`
}

// CreateUser is how staff and admin accounts come into existence.
func (h *AdminController) CreateUser(c *gin.Context) {
	var input createUserRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	role, err := models.ParseRole(input.Role)
	if err != nil {
		utils.ErrorResponseWithError(c, apperrors.NewFieldError("role", "must be one of: citizen, staff, admin"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.identity.CreateUser(ctx, services.RegisterInput{
		Name:       input.Name,
		Email:      input.Email,
		Password:   input.Password,
		Role:       role,
		Phone:      input.Phone,
		Ward:       input.Ward,
		Department: input.Department,
	})
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.CreatedResponse(c, newUserView(user), "User created successfully")
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *AdminController) SetRole(c *gin.Context) {
	id, err := pathID(c, "id", "User")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	var input roleRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	role, err := models.ParseRole(input.Role)
	if err != nil {
		utils.ErrorResponseWithError(c, apperrors.NewFieldError("role", "must be one of: citizen, staff, admin"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.identity.SetRole(ctx, principal(c), id, role)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Role updated", newUserView(user))
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *AdminController) SetActive(c *gin.Context) {
	id, err := pathID(c, "id", "User")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	var input activeRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.identity.SetActive(ctx, principal(c), id, *input.Active)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Account updated", newUserView(user))
}
