package controllers

import (
	"time"

	"civictrack/auth"
	"civictrack/models"
	"civictrack/services"
	"civictrack/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserView is the public shape of an account.
type UserView struct {
	ID         primitive.ObjectID `json:"id"`
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	Role       models.Role        `json:"role"`
	Phone      string             `json:"phone,omitempty"`
	Ward       string             `json:"ward,omitempty"`
	Department string             `json:"department,omitempty"`
	IsActive   bool               `json:"isActive"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func newUserView(u *models.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Phone:      u.Phone,
		Ward:       u.Ward,
		Department: u.Department,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
	}
}

func newUserViews(users []*models.User) []*UserView {
	out := make([]*UserView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	return out
}

type AuthResponse struct {
	Token string    `json:"token"`
	User  *UserView `json:"user"`
}

// IssueSummary is what anyone may see of an issue.
type IssueSummary struct {
	ID           primitive.ObjectID   `json:"id"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Category     models.IssueCategory `json:"category"`
	Priority     models.IssuePriority `json:"priority"`
	Status       models.IssueStatus   `json:"status"`
	Address      string               `json:"address"`
	Ward         string               `json:"ward,omitempty"`
	Photos       []string             `json:"photos"`
	ReporterName string               `json:"reporterName,omitempty"`
	Votes        int64                `json:"votes"`
	UserHasVoted bool                 `json:"userHasVoted"`
	ResolvedAt   *time.Time           `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// IssueDetail adds the history, people and coordinates, for the reporter
// and city staff.
type IssueDetail struct {
	IssueSummary
	DescriptionHTML string                 `json:"descriptionHtml,omitempty"`
	Coordinates     []float64              `json:"coordinates,omitempty"`
	CreatedBy       primitive.ObjectID     `json:"createdBy"`
	Reporter        *UserView              `json:"reporter,omitempty"`
	AssignedTo      *primitive.ObjectID    `json:"assignedTo,omitempty"`
	Timeline        []models.TimelineEntry `json:"timeline"`
	Version         int64                  `json:"version"`
}

func newIssueSummary(v *services.IssueView) IssueSummary {
	s := IssueSummary{
		ID:           v.ID,
		Title:        v.Title,
		Description:  v.Description,
		Category:     v.Category,
		Priority:     v.Priority,
		Status:       v.Status,
		Address:      v.Location.Address,
		Ward:         v.Location.Ward,
		Photos:       v.Photos,
		Votes:        v.Votes,
		UserHasVoted: v.UserHasVoted,
		ResolvedAt:   v.ResolvedAt,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	if s.Photos == nil {
		s.Photos = []string{}
	}
	if v.Reporter != nil {
		s.ReporterName = v.Reporter.Name
	}
	return s
}

func newIssueSummaries(views []*services.IssueView) []IssueSummary {
	out := make([]IssueSummary, 0, len(views))
	for _, v := range views {
		out = append(out, newIssueSummary(v))
	}
	return out
}

func newIssueDetail(v *services.IssueView, md *utils.MarkdownRenderer) *IssueDetail {
	d := &IssueDetail{
		IssueSummary: newIssueSummary(v),
		Coordinates:  v.Location.Coordinates,
		CreatedBy:    v.CreatedBy,
		Reporter:     newUserView(v.Reporter),
		AssignedTo:   v.AssignedTo,
		Timeline:     v.Timeline,
		Version:      v.Version,
	}
	if md != nil {
		// a description that fails to render is still returned as plain text
		if html, err := md.ToHTML(v.Description); err == nil {
			d.DescriptionHTML = html
		}
	}
	return d
}

// issueDetailFromModel wraps a freshly mutated issue, which has no vote
// or reporter decoration yet.
func issueDetailFromModel(issue *models.Issue, md *utils.MarkdownRenderer) *IssueDetail {
	return newIssueDetail(&services.IssueView{Issue: issue}, md)
}

// issueView picks the representation the caller is allowed to see.
func issueView(p *auth.Principal, v *services.IssueView, md *utils.MarkdownRenderer) interface{} {
	if auth.CanViewDetail(p, v.Issue) {
		return newIssueDetail(v, md)
	}
	return newIssueSummary(v)
}

// StatsResponse is the global dashboard payload.
type StatsResponse struct {
	*services.IssueStats
	Recent []IssueSummary `json:"recent"`
}
