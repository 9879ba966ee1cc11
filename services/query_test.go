package services

import (
	"context"
	"testing"
	"time"

	"civictrack/apperrors"
	"civictrack/auth"
	"civictrack/models"
	"civictrack/store"
	"civictrack/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_ResolvedPotholeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resolvedPothole := f.report(t, "Pothole on 5th", "high")
	f.report(t, "Pothole near school", "high")
	drain := f.report(t, "Blocked drain", "low")
	for _, id := range []*models.Issue{resolvedPothole, drain} {
		_, err := f.lifecycle.Transition(ctx, f.staff, id.ID, models.Resolved, "")
		require.NoError(t, err)
	}

	list, err := f.query.List(ctx, nil, ListParams{Status: "Resolved", Search: "pothole"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, resolvedPothole.ID, list.Items[0].ID)

	// legacy spelling of the same filter
	list, err = f.query.List(ctx, nil, ListParams{Status: "closed", Search: "POTHOLE"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
}

func TestQuery_FilterConjunction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.report(t, "Pothole A", "high")
	f.report(t, "Pothole B", "low")
	f.report(t, "Streetlight", "high")

	full, err := f.query.List(ctx, nil, ListParams{Priority: "high", Search: "pothole"})
	require.NoError(t, err)

	byPriority, err := f.query.List(ctx, nil, ListParams{Priority: "high"})
	require.NoError(t, err)
	bySearch, err := f.query.List(ctx, nil, ListParams{Search: "pothole"})
	require.NoError(t, err)

	// every result satisfies each predicate on its own
	inPriority := map[string]bool{}
	for _, i := range byPriority.Items {
		inPriority[i.ID.Hex()] = true
	}
	inSearch := map[string]bool{}
	for _, i := range bySearch.Items {
		inSearch[i.ID.Hex()] = true
	}
	require.Len(t, full.Items, 1)
	for _, i := range full.Items {
		assert.True(t, inPriority[i.ID.Hex()])
		assert.True(t, inSearch[i.ID.Hex()])
	}

	all, err := f.query.List(ctx, nil, ListParams{Status: "all", Category: "all"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)

	_, err = f.query.List(ctx, nil, ListParams{Status: "archived"})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestQuery_SortAndPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	low := f.report(t, "low", "low")
	crit := f.report(t, "crit", "critical")
	high := f.report(t, "high", "high")

	list, err := f.query.List(ctx, nil, ListParams{SortBy: "priority", Order: "desc"})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	assert.Equal(t, crit.ID, list.Items[0].ID)
	assert.Equal(t, high.ID, list.Items[1].ID)
	assert.Equal(t, low.ID, list.Items[2].ID)

	list, err = f.query.List(ctx, nil, ListParams{SortBy: "oldest", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, list.Total)
	assert.Equal(t, 2, list.TotalPages)
	require.Len(t, list.Items, 1)
	assert.Equal(t, high.ID, list.Items[0].ID)
}

func TestQuery_HugePageIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.report(t, "only", "low")

	list, err := f.query.List(context.Background(), nil, ListParams{Page: 1e17, Limit: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	assert.Empty(t, list.Items)
	assert.Equal(t, utils.MaxPage, list.Page)
}

func TestQuery_MyIssuesAndAdminList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.report(t, "Mine", "")
	_, err := f.lifecycle.Create(ctx, f.other, CreateIssueInput{Title: "Theirs", Description: "d", Address: "a"}, nil)
	require.NoError(t, err)

	list, err := f.query.MyIssues(ctx, f.citizen, ListParams{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, mine.ID, list.Items[0].ID)
	require.NotNil(t, list.Items[0].Reporter)
	assert.Equal(t, "citizen@example.com", list.Items[0].Reporter.Email)

	_, err = f.query.MyIssues(ctx, nil, ListParams{})
	assert.True(t, apperrors.Is(err, apperrors.CodeMissingToken))

	// public list ignores owner filters
	list, err = f.query.List(ctx, nil, ListParams{OwnerID: f.citizen.UserID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, list.Total)

	_, err = f.query.AdminList(ctx, f.citizen, ListParams{})
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	_, err = f.lifecycle.Assign(ctx, f.admin, mine.ID, f.staff.UserID, "")
	require.NoError(t, err)
	list, err = f.query.AdminList(ctx, f.staff, ListParams{AssignedTo: f.staff.UserID})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, mine.ID, list.Items[0].ID)
}

func TestQuery_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.report(t, "a", "high")
	b := f.report(t, "b", "critical")
	f.report(t, "c", "low")
	_, err := f.lifecycle.Create(ctx, f.other, CreateIssueInput{Title: "d", Description: "d", Address: "a", Priority: "high"}, nil)
	require.NoError(t, err)

	_, err = f.lifecycle.Transition(ctx, f.staff, a.ID, models.InProgress, "")
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(ctx, f.staff, b.ID, models.Resolved, "")
	require.NoError(t, err)

	own, err := f.query.UserStats(ctx, f.citizen)
	require.NoError(t, err)
	assert.EqualValues(t, 3, own.Total)
	assert.Equal(t, own.Total, own.Pending+own.InProgress+own.Resolved)
	assert.EqualValues(t, 1, own.Pending)
	assert.EqualValues(t, 1, own.InProgress)
	assert.EqualValues(t, 1, own.Resolved)
	assert.EqualValues(t, 1, own.HighPriorityOpen)
	assert.Nil(t, own.ByCategory)

	_, err = f.query.GlobalStats(ctx, f.citizen)
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	global, err := f.query.GlobalStats(ctx, f.admin)
	require.NoError(t, err)
	assert.EqualValues(t, 4, global.Total)
	assert.Equal(t, global.Total, global.Pending+global.InProgress+global.Resolved)
	assert.EqualValues(t, 2, global.HighPriorityOpen)
	assert.EqualValues(t, 3, global.ByCategory[models.Roads])
	assert.EqualValues(t, 1, global.ByCategory[models.Other])
	assert.Contains(t, global.ByCategory, models.Water)
	assert.EqualValues(t, 2, global.ByPriority[models.PriorityHigh])
	require.Len(t, global.Last7Days, 7)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), global.Last7Days[6].Date)
	assert.EqualValues(t, 4, global.Last7Days[6].Count)
	assert.Len(t, global.Recent, 4)
}

func TestQuery_Votes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Pothole", "")

	state, err := f.query.ToggleVote(ctx, f.other, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoteState{Voted: true, Votes: 1}, *state)

	_, err = f.query.ToggleVote(ctx, f.staff, issue.ID)
	require.NoError(t, err)

	view, err := f.query.Get(ctx, f.other, issue.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, view.Votes)
	assert.True(t, view.UserHasVoted)

	view, err = f.query.Get(ctx, nil, issue.ID)
	require.NoError(t, err)
	assert.False(t, view.UserHasVoted)

	state, err = f.query.ToggleVote(ctx, f.other, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoteState{Voted: false, Votes: 1}, *state)

	_, err = f.query.ToggleVote(ctx, nil, issue.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeMissingToken))
}

func TestQuery_DetailVisibility(t *testing.T) {
	f := newFixture(t)
	issue := f.report(t, "Pothole", "")

	assert.True(t, auth.CanViewDetail(f.citizen, issue))
	assert.True(t, auth.CanViewDetail(f.staff, issue))
	assert.True(t, auth.CanViewDetail(f.admin, issue))
	assert.False(t, auth.CanViewDetail(f.other, issue))
	assert.False(t, auth.CanViewDetail(nil, issue))
}

func TestBuildSort(t *testing.T) {
	assert.Equal(t, store.IssueSort{Field: store.SortByDate, Desc: true}, BuildSort("", ""))
	assert.Equal(t, store.IssueSort{Field: store.SortByDate, Desc: false}, BuildSort("oldest", "desc"))
	assert.Equal(t, store.IssueSort{Field: store.SortByPriority, Desc: false}, BuildSort("priority", "ASC"))
	assert.Equal(t, store.IssueSort{Field: store.SortByStatus, Desc: true}, BuildSort("status", ""))
}
