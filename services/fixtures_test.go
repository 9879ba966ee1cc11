package services

import (
	"context"
	"testing"
	"time"

	"civictrack/auth"
	"civictrack/models"
	"civictrack/storage"
	"civictrack/store"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *store.MemoryStore
	gate      *auth.Gate
	identity  *IdentityService
	lifecycle *LifecycleEngine
	query     *QueryService

	citizen *auth.Principal
	other   *auth.Principal
	staff   *auth.Principal
	admin   *auth.Principal
}

func newFixture(t *testing.T, opts ...LifecycleOption) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemoryStore(), nil, opts...)
}

func newFixtureWithStore(t *testing.T, st *store.MemoryStore, blobs storage.BlobStore, opts ...LifecycleOption) *fixture {
	t.Helper()
	gate, err := auth.NewGate()
	require.NoError(t, err)

	f := &fixture{
		store:     st,
		gate:      gate,
		identity:  NewIdentityService(st, auth.NewTokenCodec("test-secret", time.Hour)),
		lifecycle: NewLifecycleEngine(st, st, blobs, gate, opts...),
		query:     NewQueryService(st, st, st, gate),
	}
	f.citizen = f.user(t, "citizen@example.com", models.RoleCitizen)
	f.other = f.user(t, "other@example.com", models.RoleCitizen)
	f.staff = f.user(t, "staff@example.com", models.RoleStaff)
	f.admin = f.user(t, "admin@example.com", models.RoleAdmin)
	return f
}

func (f *fixture) user(t *testing.T, email string, role models.Role) *auth.Principal {
	t.Helper()
	u, err := f.identity.CreateUser(context.Background(), RegisterInput{
		Name:     "Test " + string(role),
		Email:    email,
		Password: "password1",
		Role:     role,
	})
	require.NoError(t, err)
	return &auth.Principal{UserID: u.ID, Role: u.Role}
}

func (f *fixture) report(t *testing.T, title string, priority string) *models.Issue {
	t.Helper()
	issue, err := f.lifecycle.Create(context.Background(), f.citizen, CreateIssueInput{
		Title:       title,
		Description: "Reported near the bus stop",
		Category:    "Roads",
		Priority:    priority,
		Address:     "5th Ave & Main",
		Ward:        "Ward 7",
	}, nil)
	require.NoError(t, err)
	return issue
}

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) Put(ctx context.Context, u storage.Upload) (string, error) {
	args := m.Called(ctx, u)
	return args.String(0), args.Error(1)
}

func (m *mockBlobStore) Delete(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
