package controllers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"civictrack/apperrors"
	"civictrack/services"
	"civictrack/storage"
	"civictrack/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type IssueController struct {
	lifecycle *services.LifecycleEngine
	query     *services.QueryService
	markdown  *utils.MarkdownRenderer
	timeout   time.Duration
	maxUpload int64
}

func NewIssueController(lifecycle *services.LifecycleEngine, query *services.QueryService, timeout time.Duration, maxUploadBytes int64) *IssueController {
	return &IssueController{
		lifecycle: lifecycle,
		query:     query,
		markdown:  utils.NewMarkdownRenderer(),
		timeout:   timeout,
		maxUpload: maxUploadBytes,
	}
}

// listParams reads the query string shared by every list endpoint.
func listParams(c *gin.Context) services.ListParams {
	page := utils.ParsePagination(c)
	search := c.Query("search")
	if search == "" {
		search = c.Query("q")
	}
	sortBy := c.Query("sortBy")
	if sortBy == "" {
		sortBy = c.Query("sort")
	}
	return services.ListParams{
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Category: c.Query("category"),
		Ward:     c.Query("ward"),
		Search:   search,
		SortBy:   sortBy,
		Order:    c.Query("order"),
		Page:     page.Page,
		Limit:    page.Limit,
	}
}

func writeIssueList(c *gin.Context, list *services.IssueList) {
	utils.ListSuccessResponse(c, newIssueSummaries(list.Items), list.Total, list.Page, list.Limit)
}

// List serves both GET /issues and GET /issues/search/filter.
func (h *IssueController) List(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	list, err := h.query.List(ctx, principal(c), listParams(c))
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	writeIssueList(c, list)
}

func (h *IssueController) Mine(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	list, err := h.query.MyIssues(ctx, principal(c), listParams(c))
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	writeIssueList(c, list)
}

func (h *IssueController) Get(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	p := principal(c)
	view, err := h.query.Get(ctx, p, id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.OKResponse(c, issueView(p, view, h.markdown))
}

type locationRequest struct {
	Address   string   `json:"address"`
	Ward      string   `json:"ward"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type createIssueRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Priority    string          `json:"priority"`
	Location    locationRequest `json:"location"`
	Photos      []string        `json:"photos"`
	// ImageURL is the single-photo field of older clients.
	ImageURL string `json:"imageUrl"`
}

// Create takes a JSON body. Photos are URLs of images stored elsewhere;
// uploads go through CreateWithUpload.
func (h *IssueController) Create(c *gin.Context) {
	var input createIssueRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	photos := input.Photos
	if input.ImageURL != "" {
		photos = append(photos, input.ImageURL)
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	issue, err := h.lifecycle.Create(ctx, principal(c), services.CreateIssueInput{
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Priority:    input.Priority,
		Address:     input.Location.Address,
		Ward:        input.Location.Ward,
		Latitude:    input.Location.Latitude,
		Longitude:   input.Location.Longitude,
		PhotoURLs:   photos,
	}, nil)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.CreatedResponse(c, issueDetailFromModel(issue, h.markdown), "Issue created successfully")
}

// CreateWithUpload takes a multipart form with the issue fields and up to
// five files under "photos".
func (h *IssueController) CreateWithUpload(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.ErrorResponseWithError(c, apperrors.NewFieldError("photos", "upload is too large").WithCause(err))
			return
		}
		utils.ErrorResponseWithError(c, apperrors.NewValidationError("Expected a multipart form").WithCause(err))
		return
	}

	in := services.CreateIssueInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Category:    c.PostForm("category"),
		Priority:    c.PostForm("priority"),
		Address:     c.PostForm("address"),
		Ward:        c.PostForm("ward"),
	}
	if in.Address == "" {
		in.Address = c.PostForm("location")
	}
	if in.Latitude, err = formFloat(c, "latitude", "location.latitude"); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if in.Longitude, err = formFloat(c, "longitude", "location.longitude"); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	files := form.File["photos"]
	uploads := make([]storage.Upload, 0, len(files))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			utils.ErrorResponseWithError(c, apperrors.NewFieldError("photos", "could not read upload").WithCause(err))
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, storage.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	issue, err := h.lifecycle.Create(ctx, principal(c), in, uploads)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.CreatedResponse(c, issueDetailFromModel(issue, h.markdown), "Issue created successfully")
}

func formFloat(c *gin.Context, key, field string) (*float64, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.NewFieldError(field, "must be a number")
	}
	return &v, nil
}

type updateIssueRequest struct {
	Status     string `json:"status"`
	AssignedTo string `json:"assignedTo"`
	Note       string `json:"note"`
}

// Update is the staff edit: status, assignment, or both.
func (h *IssueController) Update(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	var input updateIssueRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	in := services.UpdateIssueInput{Status: input.Status, Note: input.Note}
	if input.AssignedTo != "" {
		assignee, err := objectIDField("assignedTo", input.AssignedTo)
		if err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
		in.AssignedTo = &assignee
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	issue, err := h.lifecycle.Update(ctx, principal(c), id, in)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Issue updated", issueDetailFromModel(issue, h.markdown))
}

func (h *IssueController) Delete(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	if err := h.lifecycle.Delete(ctx, principal(c), id, c.Query("reason")); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Issue deleted", gin.H{"id": id.Hex()})
}

type commentRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *IssueController) Comment(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	var input commentRequest
	if err := bindJSON(c, &input); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	issue, err := h.lifecycle.Comment(ctx, principal(c), id, input.Text)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.CreatedResponse(c, issueDetailFromModel(issue, h.markdown), "Comment added")
}

func (h *IssueController) Vote(c *gin.Context) {
	id, err := pathID(c, "id", "Issue")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	state, err := h.query.ToggleVote(ctx, principal(c), id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.OKResponse(c, state)
}

func (h *IssueController) UserStats(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	stats, err := h.query.UserStats(ctx, principal(c))
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.OKResponse(c, stats)
}

// parseOptionalID reads an id filter from the query string.
func parseOptionalID(c *gin.Context, key string) (primitive.ObjectID, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" || strings.EqualFold(raw, "all") {
		return primitive.NilObjectID, nil
	}
	return objectIDField(key, raw)
}
