package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/learntrackhq/learntrack/internal/app"
	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/internal/cache"
	"github.com/learntrackhq/learntrack/internal/database/testutil"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/internal/security"
	"github.com/learntrackhq/learntrack/internal/services"
	"github.com/learntrackhq/learntrack/pkg/response"
)

func newTestRouter(t *testing.T) (*gin.Engine, *services.UserService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	guard, err := security.NewGuard(db, security.GuardConfig{})
	require.NoError(t, err)
	sessions, err := auth.NewSessionService(db, guard, auth.SessionConfig{})
	require.NoError(t, err)
	authenticator, err := auth.NewPasswordAuthenticator(db, guard, sessions, nil)
	require.NoError(t, err)
	users, err := services.NewUserService(db)
	require.NoError(t, err)
	courses, err := services.NewCourseService(db)
	require.NoError(t, err)
	progress, err := services.NewProgressService(db, services.ProgressConfig{AllowLevelRegression: true})
	require.NoError(t, err)
	thresholds, err := services.NewThresholdService(db, nil)
	require.NoError(t, err)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Server.RateLimit.Enabled = false

	router, err := NewRouter(db, cfg, Services{
		Users:         users,
		Courses:       courses,
		Progress:      progress,
		Thresholds:    thresholds,
		Sessions:      sessions,
		Authenticator: authenticator,
		Guard:         guard,
		Cache:         cache.NewDatabaseStore(db),
	})
	require.NoError(t, err)

	return router, users
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var payload *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodGet, "/api/courses", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouterLoginAndProgressFlow(t *testing.T) {
	router, users := newTestRouter(t)

	_, err := users.Create(context.Background(), services.CreateUserInput{
		Username: "routerflow",
		Email:    "routerflow@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	// Login
	w := doJSON(router, http.MethodPost, "/api/auth/login", "", gin.H{
		"identifier": "routerflow",
		"password":   "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var loginBody response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginBody))
	token := loginBody.Data.(map[string]any)["token"].(string)
	require.NotEmpty(t, token)

	// Member routes work with the token.
	w = doJSON(router, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/levels", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/progress", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The session listing marks the session backing this request.
	w = doJSON(router, http.MethodGet, "/api/auth/sessions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessionsBody response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessionsBody))
	listed := sessionsBody.Data.([]any)
	require.Len(t, listed, 1)
	require.Equal(t, true, listed[0].(map[string]any)["current"])

	// Admin routes are refused for members.
	w = doJSON(router, http.MethodPost, "/api/admin/courses", token, gin.H{
		"title":  "Forbidden Course",
		"points": 10,
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	// Logout revokes the session.
	w = doJSON(router, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(router, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouterAdminCourseAndCompletion(t *testing.T) {
	router, users := newTestRouter(t)

	admin, err := users.Create(context.Background(), services.CreateUserInput{
		Username: "routeradmin",
		Email:    "routeradmin@example.com",
		Password: "correct-horse",
		IsAdmin:  true,
	})
	require.NoError(t, err)
	require.True(t, admin.IsAdmin)

	w := doJSON(router, http.MethodPost, "/api/auth/login", "", gin.H{
		"identifier": "routeradmin",
		"password":   "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var loginBody response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginBody))
	token := loginBody.Data.(map[string]any)["token"].(string)

	// Create a course.
	w = doJSON(router, http.MethodPost, "/api/admin/courses", token, gin.H{
		"title":  "Router Fixture",
		"points": 40,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	courseID := created.Data.(map[string]any)["id"].(string)

	// Complete it and verify the snapshot moves.
	w = doJSON(router, http.MethodPost, "/api/courses/"+courseID+"/complete", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	require.EqualValues(t, 40, snapshot.Data.(map[string]any)["total_points"])

	// Double completion conflicts.
	w = doJSON(router, http.MethodPost, "/api/courses/"+courseID+"/complete", token, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// Ledger shows the entry.
	w = doJSON(router, http.MethodGet, "/api/progress/ledger", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ledger response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ledger))
	entries := ledger.Data.([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	require.Equal(t, models.PointsActionCourseCompleted, entry["action"])
	require.EqualValues(t, 40, entry["points_change"])
}

func TestRouterLockoutAfterRepeatedFailures(t *testing.T) {
	router, users := newTestRouter(t)

	_, err := users.Create(context.Background(), services.CreateUserInput{
		Username: "routerlockout",
		Email:    "routerlockout@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	// Five wrong passwords trip the failed-login heuristic for the client IP.
	for i := 0; i < 5; i++ {
		w := doJSON(router, http.MethodPost, "/api/auth/login", "", gin.H{
			"identifier": "routerlockout",
			"password":   "wrong-password",
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// Even the correct password is refused while the block is in effect.
	w := doJSON(router, http.MethodPost, "/api/auth/login", "", gin.H{
		"identifier": "routerlockout",
		"password":   "correct-horse",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "IP_BLOCKED", body.Error.Code)
}
