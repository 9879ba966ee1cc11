package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"civictrack/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type voteKey struct {
	issue primitive.ObjectID
	user  primitive.ObjectID
}

// MemoryStore keeps everything in process. It backs tests and
// STORE_DRIVER=memory runs; all copies in and out are deep.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[primitive.ObjectID]*models.User
	issues     map[primitive.ObjectID]*models.Issue
	votes      map[voteKey]time.Time
	tombstones []*models.IssueTombstone
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  map[primitive.ObjectID]*models.User{},
		issues: map[primitive.ObjectID]*models.Issue{},
		votes:  map[voteKey]time.Time{},
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[primitive.ObjectID]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = cloneUser(u)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		if filter.Matches(u) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range s.users {
		if id != u.ID && existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	issue.Version = 1
	issue.PriorityRank = issue.Priority.Rank()
	s.issues[issue.ID] = issue.Clone()
	return nil
}

func (s *MemoryStore) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	issue, ok := s.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return issue.Clone(), nil
}

func (s *MemoryStore) UpdateIssue(ctx context.Context, id primitive.ObjectID, expectedVersion int64, upd IssueUpdate) (*models.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	if issue.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next := issue.Clone()
	upd.Apply(next)
	s.issues[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) DeleteIssue(ctx context.Context, id primitive.ObjectID, tomb *models.IssueTombstone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[id]; !ok {
		return ErrNotFound
	}
	if tomb != nil {
		t := *tomb
		if t.ID.IsZero() {
			t.ID = primitive.NewObjectID()
		}
		t.Timeline = append([]models.TimelineEntry(nil), tomb.Timeline...)
		s.tombstones = append(s.tombstones, &t)
	}
	delete(s.issues, id)
	for k := range s.votes {
		if k.issue == id {
			delete(s.votes, k)
		}
	}
	return nil
}

// Tombstones returns the recorded deletions, oldest first.
func (s *MemoryStore) Tombstones() []models.IssueTombstone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.IssueTombstone, 0, len(s.tombstones))
	for _, t := range s.tombstones {
		out = append(out, *t)
	}
	return out
}

func (s *MemoryStore) FindIssues(ctx context.Context, q IssueQuery) ([]*models.Issue, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	matched := make([]*models.Issue, 0)
	for _, issue := range s.issues {
		if q.Filter.Matches(issue) {
			matched = append(matched, issue.Clone())
		}
	}
	s.mu.RUnlock()

	// ObjectIDs grow with creation time, so ordering by hex first gives the
	// creation-order tiebreak once the stable sort runs.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID.Hex() < matched[j].ID.Hex()
	})
	sort.SliceStable(matched, func(i, j int) bool {
		c := compareIssues(matched[i], matched[j], q.Sort.Field)
		if q.Sort.Desc {
			return c > 0
		}
		return c < 0
	})

	total := int64(len(matched))
	start := q.Skip
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && q.Limit < total-start {
		end = start + q.Limit
	}
	return matched[start:end], total, nil
}

func compareIssues(a, b *models.Issue, field SortField) int {
	switch field {
	case SortByPriority:
		return a.Priority.Rank() - b.Priority.Rank()
	case SortByStatus:
		switch {
		case a.Status < b.Status:
			return -1
		case a.Status > b.Status:
			return 1
		}
		return 0
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (s *MemoryStore) CountIssues(ctx context.Context, filter IssueFilter, dailySince time.Time) (*IssueCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := newIssueCounts()
	for _, issue := range s.issues {
		if !filter.Matches(issue) {
			continue
		}
		counts.ByStatus[issue.Status]++
		counts.ByCategory[issue.Category]++
		counts.ByPriority[issue.Priority]++
		if issue.Priority.IsHigh() && issue.Status != models.Resolved {
			counts.HighPriorityOpen++
		}
		if !dailySince.IsZero() && !issue.CreatedAt.Before(dailySince) {
			counts.Daily[DayKey(issue.CreatedAt)]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) ToggleVote(ctx context.Context, issueID, userID primitive.ObjectID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[issueID]; !ok {
		return false, ErrNotFound
	}
	k := voteKey{issue: issueID, user: userID}
	if _, ok := s.votes[k]; ok {
		delete(s.votes, k)
		return false, nil
	}
	s.votes[k] = time.Now()
	return true, nil
}

func (s *MemoryStore) CountVotes(ctx context.Context, issueIDs []primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[primitive.ObjectID]bool, len(issueIDs))
	for _, id := range issueIDs {
		wanted[id] = true
	}
	out := make(map[primitive.ObjectID]int64, len(issueIDs))
	for k := range s.votes {
		if wanted[k.issue] {
			out[k.issue]++
		}
	}
	return out, nil
}

func (s *MemoryStore) VotedBy(ctx context.Context, userID primitive.ObjectID, issueIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[primitive.ObjectID]bool, len(issueIDs))
	for _, id := range issueIDs {
		if _, ok := s.votes[voteKey{issue: id, user: userID}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
