package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"civictrack/apperrors"
	"civictrack/models"
	"civictrack/storage"
	"civictrack/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLifecycle_PotholeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue := f.report(t, "Pothole", "high")
	assert.Equal(t, models.Pending, issue.Status)
	require.Len(t, issue.Timeline, 1)
	assert.Equal(t, models.TimelineCreated, issue.Timeline[0].Kind)
	assert.Nil(t, issue.ResolvedAt)

	issue, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.InProgress, "crew dispatched")
	require.NoError(t, err)
	assert.Equal(t, models.InProgress, issue.Status)
	assert.Nil(t, issue.ResolvedAt)

	issue, err = f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "filled")
	require.NoError(t, err)
	assert.Equal(t, models.Resolved, issue.Status)
	require.NotNil(t, issue.ResolvedAt)
	require.Len(t, issue.Timeline, 3)
	assert.Equal(t, "filled", issue.Timeline[2].Note)
	assert.Equal(t, f.staff.UserID, issue.Timeline[2].By)
	resolvedAt := *issue.ResolvedAt

	_, err = f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "again")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))

	stored, err := f.store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Timeline, 3)
	assert.Equal(t, resolvedAt, *stored.ResolvedAt)
}

func TestLifecycle_TimelineIsAppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Broken streetlight", "")
	before := append([]models.TimelineEntry(nil), issue.Timeline...)

	steps := []func() (*models.Issue, error){
		func() (*models.Issue, error) { return f.lifecycle.Assign(ctx, f.admin, issue.ID, f.staff.UserID, "") },
		func() (*models.Issue, error) { return f.lifecycle.Comment(ctx, f.citizen, issue.ID, "still dark") },
		func() (*models.Issue, error) {
			return f.lifecycle.Transition(ctx, f.staff, issue.ID, models.InProgress, "")
		},
	}
	for _, step := range steps {
		updated, err := step()
		require.NoError(t, err)
		require.Len(t, updated.Timeline, len(before)+1)
		assert.Equal(t, before, updated.Timeline[:len(before)])
		before = updated.Timeline
	}
}

func TestLifecycle_TransitionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("citizen cannot transition", func(t *testing.T) {
		issue := f.report(t, "Graffiti", "")
		_, err := f.lifecycle.Transition(ctx, f.citizen, issue.ID, models.InProgress, "")
		assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))
	})

	t.Run("anonymous cannot transition", func(t *testing.T) {
		issue := f.report(t, "Graffiti", "")
		_, err := f.lifecycle.Transition(ctx, nil, issue.ID, models.InProgress, "")
		assert.True(t, apperrors.Is(err, apperrors.CodeMissingToken))
	})

	t.Run("pending may skip to resolved", func(t *testing.T) {
		issue := f.report(t, "Leaf pile", "")
		got, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "")
		require.NoError(t, err)
		assert.NotNil(t, got.ResolvedAt)
	})

	t.Run("backward move is invalid", func(t *testing.T) {
		issue := f.report(t, "Leaking hydrant", "")
		_, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.InProgress, "")
		require.NoError(t, err)
		_, err = f.lifecycle.Transition(ctx, f.admin, issue.ID, models.Pending, "oops")
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
	})

	t.Run("same status is invalid", func(t *testing.T) {
		issue := f.report(t, "Noise", "")
		_, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Pending, "")
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
	})

	t.Run("staff cannot reopen", func(t *testing.T) {
		issue := f.report(t, "Blocked drain", "")
		_, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "")
		require.NoError(t, err)
		_, err = f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Pending, "not fixed")
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
	})

	t.Run("admin reopen needs a note and clears resolvedAt", func(t *testing.T) {
		issue := f.report(t, "Fallen tree", "")
		_, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "")
		require.NoError(t, err)

		_, err = f.lifecycle.Transition(ctx, f.admin, issue.ID, models.InProgress, "")
		assert.True(t, apperrors.Is(err, apperrors.CodeValidation))

		got, err := f.lifecycle.Transition(ctx, f.admin, issue.ID, models.InProgress, "tree is back")
		require.NoError(t, err)
		assert.Equal(t, models.InProgress, got.Status)
		assert.Nil(t, got.ResolvedAt)
		assert.Len(t, got.Timeline, 3)
	})

	t.Run("unknown issue", func(t *testing.T) {
		_, err := f.lifecycle.Transition(ctx, f.staff, primitive.NewObjectID(), models.Resolved, "")
		assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	})
}

func TestLifecycle_ConcurrentResolveHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Open manhole", "critical")

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
		errs      = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "closed"); err != nil {
				errs <- err
				return
			}
			successes.Add(1)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	assert.EqualValues(t, 1, successes.Load())
	for err := range errs {
		assert.True(t,
			apperrors.Is(err, apperrors.CodeInvalidTransition) || apperrors.Is(err, apperrors.CodeConflict),
			"unexpected error: %v", err)
	}

	stored, err := f.store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Timeline, 2)
	assert.EqualValues(t, 2, stored.Version)
}

// conflictingStore reports a version conflict on every update.
type conflictingStore struct {
	*store.MemoryStore
	updates atomic.Int32
}

func (s *conflictingStore) UpdateIssue(context.Context, primitive.ObjectID, int64, store.IssueUpdate) (*models.Issue, error) {
	s.updates.Add(1)
	return nil, store.ErrVersionConflict
}

func TestLifecycle_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	issue := f.report(t, "Flooded underpass", "")

	cs := &conflictingStore{MemoryStore: f.store}
	engine := NewLifecycleEngine(cs, cs, nil, f.gate, WithMaxRetries(4))

	_, err := engine.Transition(context.Background(), f.staff, issue.ID, models.InProgress, "")
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))
	assert.EqualValues(t, 4, cs.updates.Load())
}

func TestLifecycle_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lat, lng := 12.97, 77.59

	issue, err := f.lifecycle.Create(ctx, f.citizen, CreateIssueInput{
		Title:       " <b>Overflowing</b> bin ",
		Description: "Not collected for a week",
		Address:     "Market Rd",
		Latitude:    &lat,
		Longitude:   &lng,
		PhotoURLs:   []string{"https://cdn.example.com/bin.jpg"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Overflowing bin", issue.Title)
	assert.Equal(t, models.Other, issue.Category)
	assert.Equal(t, models.PriorityNormal, issue.Priority)
	assert.Equal(t, []float64{lng, lat}, issue.Location.Coordinates)
	assert.Equal(t, f.citizen.UserID, issue.CreatedBy)
	assert.EqualValues(t, 1, issue.Version)

	t.Run("legacy vocabulary", func(t *testing.T) {
		got, err := f.lifecycle.Create(ctx, f.citizen, CreateIssueInput{
			Title: "Wire down", Description: "sparking", Address: "Elm St",
			Category: "Electricity", Priority: "Medium",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, models.Lighting, got.Category)
		assert.Equal(t, models.PriorityNormal, got.Priority)
	})

	t.Run("field errors", func(t *testing.T) {
		_, err := f.lifecycle.Create(ctx, f.citizen, CreateIssueInput{
			Title:     "   ",
			Latitude:  &lat,
			Priority:  "someday",
			PhotoURLs: []string{"a", "b", "c", "d", "e", "f"},
		}, nil)
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.CodeValidation, appErr.Code)

		fields := map[string]bool{}
		for _, d := range appErr.Details {
			fields[d.Field] = true
		}
		for _, want := range []string{"title", "description", "location.address", "priority", "location.coordinates", "photos"} {
			assert.True(t, fields[want], "missing field error for %s", want)
		}
	})

	t.Run("staff may report too", func(t *testing.T) {
		_, err := f.lifecycle.Create(ctx, f.staff, CreateIssueInput{Title: "t", Description: "d", Address: "a"}, nil)
		assert.NoError(t, err)
	})

	t.Run("anonymous cannot report", func(t *testing.T) {
		_, err := f.lifecycle.Create(ctx, nil, CreateIssueInput{Title: "t", Description: "d", Address: "a"}, nil)
		assert.True(t, apperrors.Is(err, apperrors.CodeMissingToken))
	})
}

func TestLifecycle_CreateWithUploads(t *testing.T) {
	blobs := new(mockBlobStore)
	f := newFixtureWithStore(t, store.NewMemoryStore(), blobs)
	ctx := context.Background()

	first := storage.Upload{Filename: "a.jpg", ContentType: "image/jpeg", Body: strings.NewReader("a")}
	second := storage.Upload{Filename: "b.jpg", ContentType: "image/jpeg", Body: strings.NewReader("b")}
	blobs.On("Put", mock.Anything, first).Return("http://cdn/a.jpg", nil).Once()
	blobs.On("Put", mock.Anything, second).Return("http://cdn/b.jpg", nil).Once()

	issue, err := f.lifecycle.Create(ctx, f.citizen, CreateIssueInput{
		Title: "Pothole", Description: "deep", Address: "Main St",
		PhotoURLs: []string{"https://cdn.example.com/existing.jpg"},
	}, []storage.Upload{first, second})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/existing.jpg", "http://cdn/a.jpg", "http://cdn/b.jpg"}, issue.Photos)
	blobs.AssertExpectations(t)
}

func TestLifecycle_CreateRemovesPhotosOnFailure(t *testing.T) {
	blobs := new(mockBlobStore)
	f := newFixtureWithStore(t, store.NewMemoryStore(), blobs)

	first := storage.Upload{Filename: "a.jpg", ContentType: "image/jpeg"}
	second := storage.Upload{Filename: "b.txt", ContentType: "text/plain"}
	blobs.On("Put", mock.Anything, first).Return("http://cdn/a.jpg", nil).Once()
	blobs.On("Put", mock.Anything, second).Return("", apperrors.NewFieldError("photos", "must be images")).Once()
	blobs.On("Delete", mock.Anything, "http://cdn/a.jpg").Return(nil).Once()

	_, err := f.lifecycle.Create(context.Background(), f.citizen, CreateIssueInput{
		Title: "Pothole", Description: "deep", Address: "Main St",
	}, []storage.Upload{first, second})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
	blobs.AssertExpectations(t)

	items, total, err := f.store.FindIssues(context.Background(), store.IssueQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestLifecycle_Assign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Stray cattle", "")

	_, err := f.lifecycle.Assign(ctx, f.staff, issue.ID, f.other.UserID, "")
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation), "citizens cannot be assignees")

	_, err = f.lifecycle.Assign(ctx, f.citizen, issue.ID, f.staff.UserID, "")
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	got, err := f.lifecycle.Assign(ctx, f.admin, issue.ID, f.staff.UserID, "your ward")
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, f.staff.UserID, *got.AssignedTo)
	assert.Equal(t, models.Pending, got.Status)
	last := got.Timeline[len(got.Timeline)-1]
	assert.Equal(t, models.TimelineAssignment, last.Kind)
	assert.Equal(t, models.Pending, last.Status)
	assert.Equal(t, "your ward", last.Note)

	_, err = f.lifecycle.Assign(ctx, f.admin, issue.ID, f.staff.UserID, "")
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))

	_, err = f.identity.SetActive(ctx, f.admin, f.staff.UserID, false)
	require.NoError(t, err)
	other := f.report(t, "Another", "")
	_, err = f.lifecycle.Assign(ctx, f.admin, other.ID, f.staff.UserID, "")
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation), "inactive staff cannot be assigned")
}

func TestLifecycle_Comment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Broken bench", "")

	_, err := f.lifecycle.Comment(ctx, f.other, issue.ID, "me too")
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	_, err = f.lifecycle.Comment(ctx, f.citizen, issue.ID, "  ")
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))

	got, err := f.lifecycle.Comment(ctx, f.citizen, issue.ID, "it got worse")
	require.NoError(t, err)
	last := got.Timeline[len(got.Timeline)-1]
	assert.Equal(t, models.TimelineComment, last.Kind)
	assert.Equal(t, "it got worse", last.Note)
	assert.Equal(t, models.Pending, got.Status)
}

func TestLifecycle_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Sinkhole", "critical")
	assignee := f.staff.UserID

	got, err := f.lifecycle.Update(ctx, f.staff, issue.ID, UpdateIssueInput{
		Status:     "in_progress",
		AssignedTo: &assignee,
		Note:       "on it",
	})
	require.NoError(t, err)
	assert.Equal(t, models.InProgress, got.Status)
	require.Len(t, got.Timeline, 3)
	assert.Equal(t, models.TimelineAssignment, got.Timeline[1].Kind)
	assert.Empty(t, got.Timeline[1].Note)
	assert.Equal(t, models.TimelineStatus, got.Timeline[2].Kind)
	assert.Equal(t, "on it", got.Timeline[2].Note)

	_, err = f.lifecycle.Update(ctx, f.staff, issue.ID, UpdateIssueInput{})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))

	_, err = f.lifecycle.Update(ctx, f.staff, issue.ID, UpdateIssueInput{Status: "archived"})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestLifecycle_UpdateIsOneWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Sinkhole", "critical")
	assignee := f.staff.UserID

	got, err := f.lifecycle.Update(ctx, f.admin, issue.ID, UpdateIssueInput{Status: "Resolved", AssignedTo: &assignee})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	assert.Len(t, got.Timeline, 3)
	require.NotNil(t, got.AssignedTo)
	assert.NotNil(t, got.ResolvedAt)
}

func TestLifecycle_UpdateRejectedTransitionKeepsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.report(t, "Sinkhole", "critical")
	_, err := f.lifecycle.Transition(ctx, f.staff, issue.ID, models.Resolved, "")
	require.NoError(t, err)
	before, err := f.store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)

	staffID := f.staff.UserID
	adminID := f.admin.UserID
	cases := []struct {
		name string
		p    func() UpdateIssueInput
		code apperrors.Code
	}{
		{"same status", func() UpdateIssueInput {
			return UpdateIssueInput{Status: "Resolved", AssignedTo: &staffID}
		}, apperrors.CodeInvalidTransition},
		{"reopen without note", func() UpdateIssueInput {
			return UpdateIssueInput{Status: "Pending", AssignedTo: &adminID}
		}, apperrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.lifecycle.Update(ctx, f.admin, issue.ID, tc.p())
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tc.code), err)

			after, err := f.store.GetIssue(ctx, issue.ID)
			require.NoError(t, err)
			assert.Nil(t, after.AssignedTo)
			assert.Equal(t, before.Version, after.Version)
			assert.Equal(t, before.Timeline, after.Timeline)
		})
	}

	// staff may not reopen at all
	_, err = f.lifecycle.Update(ctx, f.staff, issue.ID, UpdateIssueInput{Status: "Pending", AssignedTo: &staffID, Note: "again"})
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
	after, err := f.store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, after.AssignedTo)
}

func TestLifecycle_Delete(t *testing.T) {
	blobs := new(mockBlobStore)
	f := newFixtureWithStore(t, store.NewMemoryStore(), blobs)
	ctx := context.Background()
	issue, err := f.lifecycle.Create(ctx, f.citizen, CreateIssueInput{
		Title: "Duplicate report", Description: "dup", Address: "Main St",
		PhotoURLs: []string{"https://cdn.example.com/x.jpg"},
	}, nil)
	require.NoError(t, err)
	_, err = f.query.ToggleVote(ctx, f.other, issue.ID)
	require.NoError(t, err)

	err = f.lifecycle.Delete(ctx, f.staff, issue.ID, "dup")
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	blobs.On("Delete", mock.Anything, "https://cdn.example.com/x.jpg").Return(errors.New("not ours")).Once()
	require.NoError(t, f.lifecycle.Delete(ctx, f.admin, issue.ID, "duplicate of #12"))
	blobs.AssertExpectations(t)

	_, err = f.query.Get(ctx, f.admin, issue.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	tombs := f.store.Tombstones()
	require.Len(t, tombs, 1)
	assert.Equal(t, issue.ID, tombs[0].IssueID)
	assert.Equal(t, "duplicate of #12", tombs[0].Reason)
	assert.Len(t, tombs[0].Timeline, 1)

	err = f.lifecycle.Delete(ctx, f.admin, issue.ID, "")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}
