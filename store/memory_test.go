package store

import (
	"context"
	"math"
	"testing"
	"time"

	"civictrack/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func seedIssue(t *testing.T, s *MemoryStore, title string, status models.IssueStatus, prio models.IssuePriority, createdAt time.Time) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		Title:       title,
		Description: "reported by a resident",
		Category:    models.Roads,
		Priority:    prio,
		Location:    models.Location{Address: "12 Main St", Ward: "Ward 4"},
		Status:      status,
		CreatedBy:   primitive.NewObjectID(),
		Timeline:    []models.TimelineEntry{{Kind: models.TimelineCreated, Status: models.Pending, At: createdAt}},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, s.CreateIssue(context.Background(), issue))
	return issue
}

func TestMemoryStore_UpdateIssueChecksVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	issue := seedIssue(t, s, "Pothole", models.Pending, models.PriorityNormal, time.Now())
	assert.EqualValues(t, 1, issue.Version)

	status := models.InProgress
	upd := IssueUpdate{
		Status:    &status,
		Entries:   []models.TimelineEntry{{Kind: models.TimelineStatus, Status: status, At: time.Now()}},
		UpdatedAt: time.Now(),
	}

	got, err := s.UpdateIssue(ctx, issue.ID, 1, upd)
	require.NoError(t, err)
	assert.Equal(t, models.InProgress, got.Status)
	assert.EqualValues(t, 2, got.Version)
	assert.Len(t, got.Timeline, 2)

	_, err = s.UpdateIssue(ctx, issue.ID, 1, upd)
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.UpdateIssue(ctx, primitive.NewObjectID(), 1, upd)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnedIssuesAreCopies(t *testing.T) {
	s := NewMemoryStore()
	issue := seedIssue(t, s, "Broken light", models.Pending, models.PriorityLow, time.Now())

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	got.Timeline[0].Note = "tampered"
	got.Status = models.Resolved

	again, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Timeline[0].Note)
	assert.Equal(t, models.Pending, again.Status)
}

func TestMemoryStore_FindIssuesFiltersAreConjunctive(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	seedIssue(t, s, "Pothole on 5th", models.Resolved, models.PriorityHigh, now.Add(-3*time.Hour))
	seedIssue(t, s, "Pothole near school", models.Pending, models.PriorityHigh, now.Add(-2*time.Hour))
	seedIssue(t, s, "Flooded drain", models.Resolved, models.PriorityLow, now.Add(-1*time.Hour))

	items, total, err := s.FindIssues(context.Background(), IssueQuery{
		Filter: IssueFilter{Status: models.Resolved, Search: "POTHOLE"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "Pothole on 5th", items[0].Title)

	items, _, err = s.FindIssues(context.Background(), IssueQuery{Filter: IssueFilter{Search: "ward 4"}})
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestMemoryStore_FindIssuesSortAndPage(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	a := seedIssue(t, s, "a", models.Pending, models.PriorityHigh, now.Add(-3*time.Minute))
	b := seedIssue(t, s, "b", models.Pending, models.PriorityCritical, now.Add(-2*time.Minute))
	c := seedIssue(t, s, "c", models.Pending, models.PriorityHigh, now.Add(-1*time.Minute))
	d := seedIssue(t, s, "d", models.Pending, models.PriorityLow, now)

	items, total, err := s.FindIssues(context.Background(), IssueQuery{
		Sort: IssueSort{Field: SortByPriority, Desc: true},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	ids := []primitive.ObjectID{}
	for _, i := range items {
		ids = append(ids, i.ID)
	}
	// equal ranks keep creation order
	assert.Equal(t, []primitive.ObjectID{b.ID, a.ID, c.ID, d.ID}, ids)

	items, total, err = s.FindIssues(context.Background(), IssueQuery{
		Sort:  IssueSort{Field: SortByDate, Desc: true},
		Skip:  2,
		Limit: 2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID)
	assert.Equal(t, a.ID, items[1].ID)

	items, _, err = s.FindIssues(context.Background(), IssueQuery{Skip: 10, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryStore_FindIssuesOutOfRangeSkip(t *testing.T) {
	s := NewMemoryStore()
	seedIssue(t, s, "a", models.Pending, models.PriorityLow, time.Now())
	seedIssue(t, s, "b", models.Pending, models.PriorityLow, time.Now())

	items, total, err := s.FindIssues(context.Background(), IssueQuery{Skip: -100, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 1)

	items, total, err = s.FindIssues(context.Background(), IssueQuery{Skip: math.MaxInt64 - 1, Limit: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Empty(t, items)
}

func TestMemoryStore_CountIssues(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	seedIssue(t, s, "a", models.Pending, models.PriorityHigh, now)
	seedIssue(t, s, "b", models.InProgress, models.PriorityCritical, now.Add(-48*time.Hour))
	seedIssue(t, s, "c", models.Resolved, models.PriorityCritical, now.Add(-30*24*time.Hour))

	counts, err := s.CountIssues(context.Background(), IssueFilter{}, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.ByStatus[models.Pending])
	assert.EqualValues(t, 1, counts.ByStatus[models.InProgress])
	assert.EqualValues(t, 1, counts.ByStatus[models.Resolved])
	assert.EqualValues(t, 2, counts.HighPriorityOpen)
	assert.EqualValues(t, 3, counts.ByCategory[models.Roads])
	assert.EqualValues(t, 2, counts.ByPriority[models.PriorityCritical])
	assert.EqualValues(t, 1, counts.Daily[DayKey(now)])
	assert.NotContains(t, counts.Daily, DayKey(now.Add(-30*24*time.Hour)))
}

func TestMemoryStore_VotesAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	issue := seedIssue(t, s, "Garbage pile", models.Pending, models.PriorityNormal, time.Now())
	voter := primitive.NewObjectID()

	voted, err := s.ToggleVote(ctx, issue.ID, voter)
	require.NoError(t, err)
	assert.True(t, voted)

	counts, err := s.CountVotes(ctx, []primitive.ObjectID{issue.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[issue.ID])

	mine, err := s.VotedBy(ctx, voter, []primitive.ObjectID{issue.ID})
	require.NoError(t, err)
	assert.True(t, mine[issue.ID])

	voted, err = s.ToggleVote(ctx, issue.ID, voter)
	require.NoError(t, err)
	assert.False(t, voted)

	_, err = s.ToggleVote(ctx, issue.ID, voter)
	require.NoError(t, err)

	admin := primitive.NewObjectID()
	require.NoError(t, s.DeleteIssue(ctx, issue.ID, &models.IssueTombstone{
		IssueID:   issue.ID,
		Title:     issue.Title,
		DeletedBy: admin,
		DeletedAt: time.Now(),
	}))

	_, err = s.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	counts, err = s.CountVotes(ctx, []primitive.ObjectID{issue.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[issue.ID])

	tombs := s.Tombstones()
	require.Len(t, tombs, 1)
	assert.Equal(t, issue.ID, tombs[0].IssueID)
	assert.Equal(t, admin, tombs[0].DeletedBy)

	assert.ErrorIs(t, s.DeleteIssue(ctx, issue.ID, nil), ErrNotFound)
}

func TestMemoryStore_UserEmailIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := &models.User{Name: "Asha", Email: "asha@example.com", Role: models.RoleCitizen, IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.False(t, u.ID.IsZero())

	err := s.CreateUser(ctx, &models.User{Name: "Other", Email: "asha@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	other := &models.User{Name: "Ravi", Email: "ravi@example.com"}
	require.NoError(t, s.CreateUser(ctx, other))
	other.Email = "asha@example.com"
	assert.ErrorIs(t, s.UpdateUser(ctx, other), ErrDuplicate)

	active := true
	users, err := s.ListUsers(ctx, UserFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
