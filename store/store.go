// Package store persists users, issues, votes and tombstones.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"civictrack/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrDuplicate       = errors.New("store: duplicate key")
	ErrVersionConflict = errors.New("store: version conflict")
)

type UserStore interface {
	// CreateUser assigns the ID and fails with ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

type IssueStore interface {
	// CreateIssue assigns the ID and sets Version to 1.
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	// UpdateIssue applies upd only if the stored version equals expectedVersion,
	// otherwise it returns ErrVersionConflict. The returned issue is the new state.
	UpdateIssue(ctx context.Context, id primitive.ObjectID, expectedVersion int64, upd IssueUpdate) (*models.Issue, error)
	// DeleteIssue records tomb, then removes the issue and its votes.
	DeleteIssue(ctx context.Context, id primitive.ObjectID, tomb *models.IssueTombstone) error
	FindIssues(ctx context.Context, q IssueQuery) ([]*models.Issue, int64, error)
	CountIssues(ctx context.Context, filter IssueFilter, dailySince time.Time) (*IssueCounts, error)
}

type VoteStore interface {
	// ToggleVote adds the vote if absent and removes it otherwise. It reports
	// whether the user has voted after the call.
	ToggleVote(ctx context.Context, issueID, userID primitive.ObjectID) (bool, error)
	CountVotes(ctx context.Context, issueIDs []primitive.ObjectID) (map[primitive.ObjectID]int64, error)
	VotedBy(ctx context.Context, userID primitive.ObjectID, issueIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error)
}

// Store is the complete persistence layer.
type Store interface {
	UserStore
	IssueStore
	VoteStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type UserFilter struct {
	Role   models.Role
	Active *bool
}

func (f UserFilter) Matches(u *models.User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Active != nil && u.IsActive != *f.Active {
		return false
	}
	return true
}

// IssueFilter fields are ANDed; zero values are ignored. Search matches
// title, description, address or ward case-insensitively.
type IssueFilter struct {
	Status     models.IssueStatus
	Priority   models.IssuePriority
	Category   models.IssueCategory
	Ward       string
	CreatedBy  primitive.ObjectID
	AssignedTo primitive.ObjectID
	Search     string
}

func (f IssueFilter) Matches(i *models.Issue) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Priority != "" && i.Priority != f.Priority {
		return false
	}
	if f.Category != "" && i.Category != f.Category {
		return false
	}
	if f.Ward != "" && !strings.EqualFold(i.Location.Ward, f.Ward) {
		return false
	}
	if !f.CreatedBy.IsZero() && i.CreatedBy != f.CreatedBy {
		return false
	}
	if !f.AssignedTo.IsZero() && (i.AssignedTo == nil || *i.AssignedTo != f.AssignedTo) {
		return false
	}
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		fields := []string{i.Title, i.Description, i.Location.Address, i.Location.Ward}
		found := false
		for _, s := range fields {
			if strings.Contains(strings.ToLower(s), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type SortField string

const (
	SortByDate     SortField = "date"
	SortByPriority SortField = "priority"
	SortByStatus   SortField = "status"
)

// ParseSortField returns SortByDate for anything unknown.
func ParseSortField(s string) SortField {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "priority":
		return SortByPriority
	case "status":
		return SortByStatus
	}
	return SortByDate
}

type IssueSort struct {
	Field SortField
	Desc  bool
}

type IssueQuery struct {
	Filter IssueFilter
	Sort   IssueSort
	Skip   int64
	Limit  int64
}

// IssueCounts is the raw aggregation behind the stats endpoints.
type IssueCounts struct {
	ByStatus         map[models.IssueStatus]int64
	ByCategory       map[models.IssueCategory]int64
	ByPriority       map[models.IssuePriority]int64
	HighPriorityOpen int64
	// Daily counts created issues per UTC day ("2006-01-02") since dailySince.
	Daily map[string]int64
}

func newIssueCounts() *IssueCounts {
	return &IssueCounts{
		ByStatus:   map[models.IssueStatus]int64{},
		ByCategory: map[models.IssueCategory]int64{},
		ByPriority: map[models.IssuePriority]int64{},
		Daily:      map[string]int64{},
	}
}

// DayKey formats t as the key used in IssueCounts.Daily.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IssueUpdate is one atomic mutation: optional field changes, the timeline
// entries recording them and a version increment. Every update carries at
// least one entry.
type IssueUpdate struct {
	Status          *models.IssueStatus
	AssignedTo      *primitive.ObjectID
	ResolvedAt      *time.Time
	ClearResolvedAt bool
	Entries         []models.TimelineEntry
	UpdatedAt       time.Time
}

// Apply performs the update in place on i.
func (u IssueUpdate) Apply(i *models.Issue) {
	if u.Status != nil {
		i.Status = *u.Status
	}
	if u.AssignedTo != nil {
		a := *u.AssignedTo
		i.AssignedTo = &a
	}
	if u.ResolvedAt != nil {
		r := *u.ResolvedAt
		i.ResolvedAt = &r
	}
	if u.ClearResolvedAt {
		i.ResolvedAt = nil
	}
	i.Timeline = append(i.Timeline, u.Entries...)
	i.Version++
	i.UpdatedAt = u.UpdatedAt
}
