package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civictrack/apperrors"
	"civictrack/auth"
	"civictrack/models"
	"civictrack/store"
	"civictrack/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

const (
	statsDays   = 7
	recentLimit = 5
)

// ListParams are raw client filters. Enum values accept the legacy
// vocabulary, and "all" means no filter.
type ListParams struct {
	Status     string
	Priority   string
	Category   string
	Ward       string
	Search     string
	OwnerID    primitive.ObjectID
	AssignedTo primitive.ObjectID
	SortBy     string
	Order      string
	Page       int
	Limit      int
}

// IssueView is an issue with its vote tally and reporter.
type IssueView struct {
	*models.Issue
	Votes        int64
	UserHasVoted bool
	Reporter     *models.User
}

type IssueList struct {
	Items      []*IssueView
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type IssueStats struct {
	Total            int64                          `json:"total"`
	Pending          int64                          `json:"pending"`
	InProgress       int64                          `json:"inProgress"`
	Resolved         int64                          `json:"resolved"`
	HighPriorityOpen int64                          `json:"highPriorityOpen"`
	ByCategory       map[models.IssueCategory]int64 `json:"byCategory,omitempty"`
	ByPriority       map[models.IssuePriority]int64 `json:"byPriority,omitempty"`
	Last7Days        []DayCount                     `json:"last7Days,omitempty"`
	Recent           []*IssueView                   `json:"-"`
}

// QueryService answers read-only issue questions.
type QueryService struct {
	issues store.IssueStore
	votes  store.VoteStore
	users  store.UserStore
	gate   *auth.Gate
	now    func() time.Time
}

func NewQueryService(issues store.IssueStore, votes store.VoteStore, users store.UserStore, gate *auth.Gate) *QueryService {
	return &QueryService{issues: issues, votes: votes, users: users, gate: gate, now: time.Now}
}

// List is the public query. Owner and assignee filters are ignored here.
func (s *QueryService) List(ctx context.Context, p *auth.Principal, params ListParams) (*IssueList, error) {
	params.OwnerID = primitive.NilObjectID
	params.AssignedTo = primitive.NilObjectID
	return s.list(ctx, p, params)
}

// MyIssues lists the caller's own reports.
func (s *QueryService) MyIssues(ctx context.Context, p *auth.Principal, params ListParams) (*IssueList, error) {
	if p == nil {
		return nil, apperrors.NewMissingTokenError()
	}
	params.OwnerID = p.UserID
	params.AssignedTo = primitive.NilObjectID
	return s.list(ctx, p, params)
}

// AdminList allows every filter, including owner and assignee.
func (s *QueryService) AdminList(ctx context.Context, p *auth.Principal, params ListParams) (*IssueList, error) {
	if err := s.gate.Require(p, auth.ActionIssueListAll); err != nil {
		return nil, err
	}
	return s.list(ctx, p, params)
}

func (s *QueryService) list(ctx context.Context, p *auth.Principal, params ListParams) (*IssueList, error) {
	filter, err := BuildFilter(params)
	if err != nil {
		return nil, err
	}
	page := utils.NewPagination(params.Page, params.Limit)

	issues, total, err := s.issues.FindIssues(ctx, store.IssueQuery{
		Filter: filter,
		Sort:   BuildSort(params.SortBy, params.Order),
		Skip:   page.Skip(),
		Limit:  int64(page.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("find issues: %w", err)
	}

	views, err := s.decorate(ctx, p, issues)
	if err != nil {
		return nil, err
	}
	return &IssueList{
		Items:      views,
		Total:      total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: utils.TotalPages(total, page.Limit),
	}, nil
}

// BuildFilter normalizes raw parameters into a store filter.
func BuildFilter(params ListParams) (store.IssueFilter, error) {
	var f store.IssueFilter
	if v := filterValue(params.Status); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			return f, apperrors.NewFieldError("status", "must be one of: Pending, In Progress, Resolved")
		}
		f.Status = st
	}
	if v := filterValue(params.Priority); v != "" {
		pr, err := models.ParsePriority(v)
		if err != nil {
			return f, apperrors.NewFieldError("priority", "must be one of: low, normal, high, critical")
		}
		f.Priority = pr
	}
	if v := filterValue(params.Category); v != "" {
		c, err := models.ParseCategory(v)
		if err != nil {
			return f, apperrors.NewFieldError("category", "is not a known category")
		}
		f.Category = c
	}
	f.Ward = filterValue(params.Ward)
	f.Search = strings.TrimSpace(params.Search)
	f.CreatedBy = params.OwnerID
	f.AssignedTo = params.AssignedTo
	return f, nil
}

func filterValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "all") {
		return ""
	}
	return v
}

// BuildSort defaults to newest first. The older newest/oldest sort names are accepted.
func BuildSort(sortBy, order string) store.IssueSort {
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "newest":
		return store.IssueSort{Field: store.SortByDate, Desc: true}
	case "oldest":
		return store.IssueSort{Field: store.SortByDate, Desc: false}
	}
	return store.IssueSort{
		Field: store.ParseSortField(sortBy),
		Desc:  !strings.EqualFold(strings.TrimSpace(order), "asc"),
	}
}

// Get returns one issue with votes. Whether the caller sees full detail
// is decided by auth.CanViewDetail at the edge.
func (s *QueryService) Get(ctx context.Context, p *auth.Principal, id primitive.ObjectID) (*IssueView, error) {
	issue, err := s.issues.GetIssue(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("Issue")
		}
		return nil, fmt.Errorf("load issue: %w", err)
	}
	views, err := s.decorate(ctx, p, []*models.Issue{issue})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// decorate adds vote counts, the caller's vote and reporters in three batched reads.
func (s *QueryService) decorate(ctx context.Context, p *auth.Principal, issues []*models.Issue) ([]*IssueView, error) {
	views := make([]*IssueView, 0, len(issues))
	if len(issues) == 0 {
		return views, nil
	}

	ids := make([]primitive.ObjectID, 0, len(issues))
	reporterIDs := make([]primitive.ObjectID, 0, len(issues))
	seen := map[primitive.ObjectID]bool{}
	for _, i := range issues {
		ids = append(ids, i.ID)
		if !seen[i.CreatedBy] {
			seen[i.CreatedBy] = true
			reporterIDs = append(reporterIDs, i.CreatedBy)
		}
	}

	counts, err := s.votes.CountVotes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	voted := map[primitive.ObjectID]bool{}
	if p != nil {
		if voted, err = s.votes.VotedBy(ctx, p.UserID, ids); err != nil {
			return nil, fmt.Errorf("load user votes: %w", err)
		}
	}
	reporters, err := s.users.GetUsersByIDs(ctx, reporterIDs)
	if err != nil {
		return nil, fmt.Errorf("load reporters: %w", err)
	}

	for _, i := range issues {
		views = append(views, &IssueView{
			Issue:        i,
			Votes:        counts[i.ID],
			UserHasVoted: voted[i.ID],
			Reporter:     reporters[i.CreatedBy],
		})
	}
	return views, nil
}

// UserStats counts the caller's own issues.
func (s *QueryService) UserStats(ctx context.Context, p *auth.Principal) (*IssueStats, error) {
	if err := s.gate.Require(p, auth.ActionStatsOwn); err != nil {
		return nil, err
	}
	counts, err := s.issues.CountIssues(ctx, store.IssueFilter{CreatedBy: p.UserID}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}
	return statsFromCounts(counts), nil
}

// GlobalStats adds breakdowns, daily counts and the latest reports. The
// aggregation and the recent list load concurrently.
func (s *QueryService) GlobalStats(ctx context.Context, p *auth.Principal) (*IssueStats, error) {
	if err := s.gate.Require(p, auth.ActionStatsAll); err != nil {
		return nil, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(statsDays - 1))

	var (
		counts *store.IssueCounts
		recent []*models.Issue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if counts, err = s.issues.CountIssues(gctx, store.IssueFilter{}, since); err != nil {
			return fmt.Errorf("count issues: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recent, _, err = s.issues.FindIssues(gctx, store.IssueQuery{
			Sort:  store.IssueSort{Field: store.SortByDate, Desc: true},
			Limit: recentLimit,
		})
		if err != nil {
			return fmt.Errorf("find recent issues: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := statsFromCounts(counts)
	stats.ByCategory = make(map[models.IssueCategory]int64, len(models.Categories))
	for _, c := range models.Categories {
		stats.ByCategory[c] = counts.ByCategory[c]
	}
	stats.ByPriority = make(map[models.IssuePriority]int64, len(models.Priorities))
	for _, pr := range models.Priorities {
		stats.ByPriority[pr] = counts.ByPriority[pr]
	}
	stats.Last7Days = make([]DayCount, 0, statsDays)
	for d := since; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := store.DayKey(d)
		stats.Last7Days = append(stats.Last7Days, DayCount{Date: key, Count: counts.Daily[key]})
	}

	views, err := s.decorate(ctx, p, recent)
	if err != nil {
		return nil, err
	}
	stats.Recent = views
	return stats, nil
}

func statsFromCounts(c *store.IssueCounts) *IssueStats {
	st := &IssueStats{
		Pending:          c.ByStatus[models.Pending],
		InProgress:       c.ByStatus[models.InProgress],
		Resolved:         c.ByStatus[models.Resolved],
		HighPriorityOpen: c.HighPriorityOpen,
	}
	st.Total = st.Pending + st.InProgress + st.Resolved
	return st
}

// ToggleVote flips the caller's upvote and returns the new tally.
func (s *QueryService) ToggleVote(ctx context.Context, p *auth.Principal, issueID primitive.ObjectID) (*models.VoteState, error) {
	if err := s.gate.Require(p, auth.ActionIssueVote); err != nil {
		return nil, err
	}
	voted, err := s.votes.ToggleVote(ctx, issueID, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("Issue")
		}
		return nil, fmt.Errorf("toggle vote: %w", err)
	}
	counts, err := s.votes.CountVotes(ctx, []primitive.ObjectID{issueID})
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	return &models.VoteState{Voted: voted, Votes: counts[issueID]}, nil
}
