package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"civictrack/auth"
	"civictrack/client"
	"civictrack/logger"
	"civictrack/models"
	"civictrack/routes"
	"civictrack/services"
	"civictrack/storage"
	"civictrack/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *services.IdentityService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemoryStore()
	gate, err := auth.NewGate()
	require.NoError(t, err)
	codec := auth.NewTokenCodec("client-test-secret", time.Hour)
	dir := t.TempDir()

	srv := httptest.NewUnstartedServer(nil)
	blobs, err := storage.NewLocalDisk(dir, "http://"+srv.Listener.Addr().String(), 1<<20)
	require.NoError(t, err)

	identity := services.NewIdentityService(st, codec)
	srv.Config.Handler = routes.SetupRouter(routes.Deps{
		Identity:       identity,
		Lifecycle:      services.NewLifecycleEngine(st, st, blobs, gate),
		Query:          services.NewQueryService(st, st, st, gate),
		Tokens:         codec,
		Gate:           gate,
		Logger:         logger.Get(),
		RequestTimeout: 5 * time.Second,
		UploadDir:      dir,
	})
	srv.Start()
	t.Cleanup(srv.Close)
	return srv, identity
}

func TestClient_ReportAndResolve(t *testing.T) {
	srv, identity := newTestServer(t)
	c := client.New(client.Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
	ctx := context.Background()

	_, err := identity.CreateUser(ctx, services.RegisterInput{
		Name: "Crew", Email: "crew@example.com", Password: "password1", Role: models.RoleStaff,
	})
	require.NoError(t, err)

	jane, err := c.Signup(ctx, "Jane", "jane@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "citizen", jane.User.Role)
	janeCtx := client.WithToken(ctx, jane.Token)

	me, err := c.Me(janeCtx)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", me.Email)

	issue, err := c.CreateIssue(janeCtx, client.CreateIssueRequest{
		Title:       "Pothole on 5th Ave",
		Description: "Deep pothole",
		Category:    "Roads",
		Priority:    "high",
		Location:    client.Location{Address: "5th Ave & Main"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Pending", issue.Status)
	require.Len(t, issue.Timeline, 1)

	staff, err := c.Login(ctx, "crew@example.com", "password1")
	require.NoError(t, err)
	staffCtx := client.WithToken(ctx, staff.Token)

	issue, err = c.UpdateStatus(staffCtx, issue.ID, "Resolved", "filled")
	require.NoError(t, err)
	assert.Equal(t, "Resolved", issue.Status)
	assert.NotNil(t, issue.ResolvedAt)

	list, err := c.ListIssues(ctx, client.ListOptions{Status: "resolved", Search: "pothole"})
	require.NoError(t, err)
	require.EqualValues(t, 1, list.Total)
	assert.Empty(t, list.Items[0].Timeline)

	vote, err := c.Vote(janeCtx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, client.VoteState{Voted: true, Votes: 1}, *vote)

	stats, err := c.MyStats(janeCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Resolved)

	global, err := c.AdminStats(staffCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, global.Total)
	assert.Len(t, global.Last7Days, 7)

	mine, err := c.MyIssues(janeCtx, client.ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, mine.Total)
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := client.New(client.Config{BaseURL: srv.URL})
	ctx := context.Background()

	_, err := c.Me(ctx)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "MISSING_TOKEN", apiErr.Code)

	jane, err := c.Signup(ctx, "Jane", "jane@example.com", "password1")
	require.NoError(t, err)
	janeCtx := client.WithToken(ctx, jane.Token)

	err = c.DeleteIssue(janeCtx, "000000000000000000000000", "spam")
	assert.True(t, client.IsCode(err, "FORBIDDEN"), err)

	_, err = c.GetIssue(ctx, "000000000000000000000000")
	assert.True(t, client.IsCode(err, "NOT_FOUND"), err)
}

func TestClient_CreateIssueWithPhotos(t *testing.T) {
	srv, _ := newTestServer(t)
	c := client.New(client.Config{BaseURL: srv.URL})
	ctx := context.Background()

	jane, err := c.Signup(ctx, "Jane", "jane@example.com", "password1")
	require.NoError(t, err)
	lat, lng := 51.5, -0.12
	issue, err := c.CreateIssueWithPhotos(client.WithToken(ctx, jane.Token), client.CreateIssueRequest{
		Title:       "Graffiti",
		Description: "On the underpass",
		Category:    "Other",
		Location:    client.Location{Address: "Underpass", Latitude: &lat, Longitude: &lng},
	}, []client.Photo{
		{Filename: "wall.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg bytes")},
	})
	require.NoError(t, err)
	require.Len(t, issue.Photos, 1)
	assert.Equal(t, []float64{-0.12, 51.5}, issue.Coordinates)

	resp, err := http.Get(issue.Photos[0])
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
