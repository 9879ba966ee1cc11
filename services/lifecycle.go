package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"civictrack/apperrors"
	"civictrack/auth"
	"civictrack/logger"
	"civictrack/models"
	"civictrack/storage"
	"civictrack/store"
	"civictrack/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultMaxRetries = 3

	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxAddressLength     = 300
	maxNoteLength        = 1000
)

type CreateIssueInput struct {
	Title       string
	Description string
	Category    string
	Priority    string
	Address     string
	Ward        string
	Latitude    *float64
	Longitude   *float64
	PhotoURLs   []string
}

// UpdateIssueInput is the staff edit: an optional assignment followed by
// an optional status change.
type UpdateIssueInput struct {
	Status     string
	AssignedTo *primitive.ObjectID
	Note       string
}

type LifecycleOption func(*LifecycleEngine)

func WithMaxRetries(n int) LifecycleOption {
	return func(e *LifecycleEngine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) LifecycleOption {
	return func(e *LifecycleEngine) {
		e.now = now
	}
}

// LifecycleEngine performs every issue mutation. Each mutation is one
// versioned store update carrying exactly one timeline entry.
type LifecycleEngine struct {
	issues     store.IssueStore
	users      store.UserStore
	blobs      storage.BlobStore
	gate       *auth.Gate
	maxRetries int
	now        func() time.Time
	log        *slog.Logger
}

func NewLifecycleEngine(issues store.IssueStore, users store.UserStore, blobs storage.BlobStore, gate *auth.Gate, opts ...LifecycleOption) *LifecycleEngine {
	e := &LifecycleEngine{
		issues:     issues,
		users:      users,
		blobs:      blobs,
		gate:       gate,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		log:        logger.WithComponent("lifecycle"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create validates the report, stores the uploads in order and persists
// the issue as Pending with its first timeline entry.
func (e *LifecycleEngine) Create(ctx context.Context, p *auth.Principal, in CreateIssueInput, uploads []storage.Upload) (*models.Issue, error) {
	if err := e.gate.Require(p, auth.ActionIssueCreate); err != nil {
		return nil, err
	}

	issue, err := e.newIssue(in, len(uploads))
	if err != nil {
		return nil, err
	}

	stored := make([]string, 0, len(uploads))
	cleanup := func() {
		for _, url := range stored {
			if err := e.blobs.Delete(context.WithoutCancel(ctx), url); err != nil {
				e.log.Warn("failed to remove orphaned photo", "url", url, "error", err)
			}
		}
	}
	if len(uploads) > 0 && e.blobs == nil {
		return nil, apperrors.NewInternalError(errors.New("photo storage is not configured"))
	}
	for _, u := range uploads {
		url, err := e.blobs.Put(ctx, u)
		if err != nil {
			cleanup()
			return nil, err
		}
		stored = append(stored, url)
	}

	now := e.now()
	issue.Photos = append(issue.Photos, stored...)
	issue.Status = models.Pending
	issue.CreatedBy = p.UserID
	issue.Timeline = []models.TimelineEntry{{
		Kind:   models.TimelineCreated,
		Status: models.Pending,
		By:     p.UserID,
		At:     now,
	}}
	issue.CreatedAt = now
	issue.UpdatedAt = now

	if err := e.issues.CreateIssue(ctx, issue); err != nil {
		cleanup()
		return nil, fmt.Errorf("create issue: %w", err)
	}

	e.log.Info("issue created", "issue_id", issue.ID.Hex(), "user_id", p.UserID.Hex(), "category", issue.Category, "photos", len(issue.Photos))
	return issue, nil
}

func (e *LifecycleEngine) newIssue(in CreateIssueInput, uploadCount int) (*models.Issue, error) {
	var details []apperrors.FieldError
	fail := func(field, msg string) {
		details = append(details, apperrors.FieldError{Field: field, Message: msg})
	}

	title := utils.CleanText(in.Title)
	switch {
	case title == "":
		fail("title", "is required")
	case len(title) > maxTitleLength:
		fail("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	description := utils.CleanText(in.Description)
	switch {
	case description == "":
		fail("description", "is required")
	case len(description) > maxDescriptionLength:
		fail("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	address := utils.CleanText(in.Address)
	switch {
	case address == "":
		fail("location.address", "is required")
	case len(address) > maxAddressLength:
		fail("location.address", fmt.Sprintf("must be at most %d characters", maxAddressLength))
	}

	category := models.Other
	if in.Category != "" {
		c, err := models.ParseCategory(in.Category)
		if err != nil {
			fail("category", "is not a known category")
		}
		category = c
	}
	priority := models.PriorityNormal
	if in.Priority != "" {
		pr, err := models.ParsePriority(in.Priority)
		if err != nil {
			fail("priority", "must be one of: low, normal, high, critical")
		}
		priority = pr
	}

	var coords []float64
	switch {
	case in.Latitude == nil && in.Longitude == nil:
	case in.Latitude == nil || in.Longitude == nil:
		fail("location.coordinates", "latitude and longitude must be given together")
	case *in.Latitude < -90 || *in.Latitude > 90:
		fail("location.latitude", "must be between -90 and 90")
	case *in.Longitude < -180 || *in.Longitude > 180:
		fail("location.longitude", "must be between -180 and 180")
	default:
		coords = []float64{*in.Longitude, *in.Latitude}
	}

	if len(in.PhotoURLs)+uploadCount > models.MaxPhotos {
		fail("photos", fmt.Sprintf("at most %d photos are allowed", models.MaxPhotos))
	}
	for _, u := range in.PhotoURLs {
		if err := validate.Var(u, "required,url"); err != nil {
			fail("photos", "must be valid URLs")
			break
		}
	}

	if len(details) > 0 {
		return nil, apperrors.NewValidationError("Request validation failed", details...)
	}
	return &models.Issue{
		Title:       title,
		Description: description,
		Category:    category,
		Priority:    priority,
		Location: models.Location{
			Address:     address,
			Ward:        utils.CleanText(in.Ward),
			Coordinates: coords,
		},
		Photos: append([]string{}, in.PhotoURLs...),
	}, nil
}

func cleanNote(note string) (string, error) {
	n := utils.CleanText(note)
	if len(n) > maxNoteLength {
		return "", apperrors.NewFieldError("note", fmt.Sprintf("must be at most %d characters", maxNoteLength))
	}
	return n, nil
}

// Transition moves an issue to target. Forward moves need issue:transition;
// leaving Resolved is a reopen and additionally needs issue:reopen and a note.
func (e *LifecycleEngine) Transition(ctx context.Context, p *auth.Principal, id primitive.ObjectID, target models.IssueStatus, note string) (*models.Issue, error) {
	if err := e.checkTransition(p, target); err != nil {
		return nil, err
	}
	note, err := cleanNote(note)
	if err != nil {
		return nil, err
	}

	updated, err := e.mutate(ctx, id, func(issue *models.Issue) (store.IssueUpdate, error) {
		return e.transitionChange(p, issue, target, note, e.now())
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("issue status changed", "issue_id", id.Hex(), "status", target, "by", p.UserID.Hex(), "version", updated.Version)
	return updated, nil
}

func (e *LifecycleEngine) checkTransition(p *auth.Principal, target models.IssueStatus) error {
	if err := e.gate.Require(p, auth.ActionIssueTransition); err != nil {
		return err
	}
	if !target.IsValid() {
		return apperrors.NewFieldError("status", "must be one of: Pending, In Progress, Resolved")
	}
	return nil
}

// transitionChange validates the move against the loaded issue and builds
// the status change. Nothing is written here.
func (e *LifecycleEngine) transitionChange(p *auth.Principal, issue *models.Issue, target models.IssueStatus, note string, now time.Time) (store.IssueUpdate, error) {
	from := issue.Status
	switch {
	case from.CanTransitionTo(target):
	case from.CanReopenTo(target) && e.gate.Can(p.Role, auth.ActionIssueReopen):
		if note == "" {
			return store.IssueUpdate{}, apperrors.NewFieldError("note", "is required to reopen a resolved issue")
		}
	default:
		return store.IssueUpdate{}, apperrors.NewInvalidTransitionError(string(from), string(target))
	}

	upd := store.IssueUpdate{
		Status: &target,
		Entries: []models.TimelineEntry{{
			Kind:   models.TimelineStatus,
			Status: target,
			By:     p.UserID,
			Note:   note,
			At:     now,
		}},
		UpdatedAt: now,
	}
	if target == models.Resolved {
		upd.ResolvedAt = &now
	}
	if from == models.Resolved {
		upd.ClearResolvedAt = true
	}
	return upd, nil
}

// Assign hands the issue to an active staff member or admin. The status is unchanged.
func (e *LifecycleEngine) Assign(ctx context.Context, p *auth.Principal, id, assigneeID primitive.ObjectID, note string) (*models.Issue, error) {
	if err := e.gate.Require(p, auth.ActionIssueAssign); err != nil {
		return nil, err
	}
	note, err := cleanNote(note)
	if err != nil {
		return nil, err
	}
	if err := e.checkAssignee(ctx, p, assigneeID); err != nil {
		return nil, err
	}

	updated, err := e.mutate(ctx, id, func(issue *models.Issue) (store.IssueUpdate, error) {
		return assignChange(p, issue, assigneeID, note, e.now())
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("issue assigned", "issue_id", id.Hex(), "assignee", assigneeID.Hex(), "by", p.UserID.Hex())
	return updated, nil
}

func (e *LifecycleEngine) checkAssignee(ctx context.Context, p *auth.Principal, assigneeID primitive.ObjectID) error {
	if err := e.gate.Require(p, auth.ActionIssueAssign); err != nil {
		return err
	}
	assignee, err := e.users.GetUserByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewFieldError("assignedTo", "must be an existing staff member")
		}
		return fmt.Errorf("load assignee: %w", err)
	}
	if !assignee.IsActive || !assignee.Role.HandlesIssues() {
		return apperrors.NewFieldError("assignedTo", "must be an active staff member or admin")
	}
	return nil
}

func assignChange(p *auth.Principal, issue *models.Issue, assigneeID primitive.ObjectID, note string, now time.Time) (store.IssueUpdate, error) {
	if issue.AssignedTo != nil && *issue.AssignedTo == assigneeID {
		return store.IssueUpdate{}, apperrors.NewFieldError("assignedTo", "issue is already assigned to this user")
	}
	return store.IssueUpdate{
		AssignedTo: &assigneeID,
		Entries: []models.TimelineEntry{{
			Kind:   models.TimelineAssignment,
			Status: issue.Status,
			By:     p.UserID,
			Note:   note,
			At:     now,
		}},
		UpdatedAt: now,
	}, nil
}

// Comment appends a note from the reporter or staff to the timeline.
func (e *LifecycleEngine) Comment(ctx context.Context, p *auth.Principal, id primitive.ObjectID, text string) (*models.Issue, error) {
	if err := e.gate.Require(p, auth.ActionIssueComment); err != nil {
		return nil, err
	}
	text, err := cleanNote(text)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, apperrors.NewFieldError("note", "is required")
	}

	return e.mutate(ctx, id, func(issue *models.Issue) (store.IssueUpdate, error) {
		if !auth.CanViewDetail(p, issue) {
			return store.IssueUpdate{}, apperrors.NewForbiddenError("Only the reporter or city staff can comment on this issue")
		}
		now := e.now()
		return store.IssueUpdate{
			Entries: []models.TimelineEntry{{
				Kind:   models.TimelineComment,
				Status: issue.Status,
				By:     p.UserID,
				Note:   text,
				At:     now,
			}},
			UpdatedAt: now,
		}, nil
	})
}

// Update applies an assignment and a status change as one versioned write,
// each with its own timeline entry. Both are checked against the same
// loaded issue, so a rejected status change leaves the assignment unsaved.
// The note goes with the status change when both are present.
func (e *LifecycleEngine) Update(ctx context.Context, p *auth.Principal, id primitive.ObjectID, in UpdateIssueInput) (*models.Issue, error) {
	if in.Status == "" && in.AssignedTo == nil {
		return nil, apperrors.NewValidationError("Either status or assignedTo is required")
	}

	var target models.IssueStatus
	if in.Status != "" {
		s, err := models.ParseStatus(in.Status)
		if err != nil {
			return nil, apperrors.NewFieldError("status", "must be one of: Pending, In Progress, Resolved")
		}
		target = s
	}

	switch {
	case in.AssignedTo == nil:
		return e.Transition(ctx, p, id, target, in.Note)
	case target == "":
		return e.Assign(ctx, p, id, *in.AssignedTo, in.Note)
	}

	if err := e.checkTransition(p, target); err != nil {
		return nil, err
	}
	note, err := cleanNote(in.Note)
	if err != nil {
		return nil, err
	}
	assigneeID := *in.AssignedTo
	if err := e.checkAssignee(ctx, p, assigneeID); err != nil {
		return nil, err
	}

	updated, err := e.mutate(ctx, id, func(issue *models.Issue) (store.IssueUpdate, error) {
		now := e.now()
		assign, err := assignChange(p, issue, assigneeID, "", now)
		if err != nil {
			return store.IssueUpdate{}, err
		}
		upd, err := e.transitionChange(p, issue, target, note, now)
		if err != nil {
			return store.IssueUpdate{}, err
		}
		upd.AssignedTo = assign.AssignedTo
		upd.Entries = append(assign.Entries, upd.Entries...)
		return upd, nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("issue assigned and status changed", "issue_id", id.Hex(), "assignee", assigneeID.Hex(), "status", target, "by", p.UserID.Hex(), "version", updated.Version)
	return updated, nil
}

// Delete removes an issue for good, leaving a tombstone with its timeline.
func (e *LifecycleEngine) Delete(ctx context.Context, p *auth.Principal, id primitive.ObjectID, reason string) error {
	if err := e.gate.Require(p, auth.ActionIssueDelete); err != nil {
		return err
	}
	issue, err := e.issues.GetIssue(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundError("Issue")
		}
		return fmt.Errorf("load issue: %w", err)
	}

	tomb := &models.IssueTombstone{
		IssueID:   issue.ID,
		Title:     issue.Title,
		CreatedBy: issue.CreatedBy,
		Status:    issue.Status,
		Timeline:  issue.Timeline,
		DeletedBy: p.UserID,
		Reason:    utils.CleanText(reason),
		DeletedAt: e.now(),
	}
	if err := e.issues.DeleteIssue(ctx, id, tomb); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundError("Issue")
		}
		return fmt.Errorf("delete issue: %w", err)
	}

	if e.blobs != nil {
		for _, url := range issue.Photos {
			if err := e.blobs.Delete(ctx, url); err != nil {
				e.log.Warn("failed to remove photo of deleted issue", "issue_id", id.Hex(), "url", url, "error", err)
			}
		}
	}
	e.log.Info("issue deleted", "issue_id", id.Hex(), "by", p.UserID.Hex())
	return nil
}

// mutate loads the issue, builds the update and persists it against the
// loaded version. On a version conflict it starts over with a fresh copy,
// so build always validates against current state.
func (e *LifecycleEngine) mutate(ctx context.Context, id primitive.ObjectID, build func(*models.Issue) (store.IssueUpdate, error)) (*models.Issue, error) {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		issue, err := e.issues.GetIssue(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperrors.NewNotFoundError("Issue")
			}
			return nil, fmt.Errorf("load issue: %w", err)
		}

		upd, err := build(issue)
		if err != nil {
			return nil, err
		}

		updated, err := e.issues.UpdateIssue(ctx, id, issue.Version, upd)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, store.ErrVersionConflict):
			e.log.Debug("issue version conflict, retrying", "issue_id", id.Hex(), "attempt", attempt)
			continue
		case errors.Is(err, store.ErrNotFound):
			return nil, apperrors.NewNotFoundError("Issue")
		default:
			return nil, fmt.Errorf("update issue: %w", err)
		}
	}
	return nil, apperrors.NewConflictError("The issue was changed by someone else, please retry")
}
