package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/localstore"
	"fitlog/workout-tracker/internal/repository/memory"
	"fitlog/workout-tracker/internal/service"
	"fitlog/workout-tracker/internal/storage"
)

type testServer struct {
	router *gin.Engine
	engine *service.WorkoutSyncEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv, err := localstore.OpenKV(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	db := memory.NewDB()
	fs := afero.NewMemMapFs()
	auth := service.NewAuthService(db.Accounts(), "test-secret", time.Hour)
	sessions := service.NewSessionManager(auth, db.Users(), kv)
	engine := service.NewWorkoutSyncEngine(db.Workouts(), localstore.NewWorkoutCache(kv), service.SyncOptions{OpTimeout: time.Second})
	profiles := service.NewProfileStore(db.Users(), storage.NewFSStorage(fs, "/blobs"), localstore.NewProfileCache(kv, fs, "/device"))

	sessions.AddSessionListener(engine)
	sessions.AddSessionListener(profiles)
	sessions.AddProfileListener(profiles)
	t.Cleanup(engine.Close)
	t.Cleanup(func() { sessions.SignOut(context.Background()) })

	router := gin.New()
	SetupRoutes(router, sessions, engine, profiles, nil)
	return &testServer{router: router, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) register(t *testing.T, email, displayName string) SessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Email:           email,
		Password:        "password1",
		ConfirmPassword: "password1",
		DisplayName:     displayName,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SessionResponse](t, rec)
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/workouts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/workouts", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterLoginLogout(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "alice@example.com", "Alice")
	require.NotEmpty(t, session.Token)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Email: "other@example.com", Password: "password1", ConfirmPassword: "password1", DisplayName: "ALICE",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/me", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.UserID, decode[MeResponse](t, rec).UserID)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", session.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/me", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Identifier: "alice", Password: "password1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.UserID, decode[SessionResponse](t, rec).UserID)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Identifier: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkoutLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com", "Alice").Token

	start := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	end := start.Add(47 * time.Minute)
	draft := domain.WorkoutDraft{
		Name:      "Morning",
		StartTime: start,
		EndTime:   &end,
		Exercises: []domain.Exercise{{
			ID:         "ex1",
			Name:       "Squat",
			WeightUnit: domain.WeightLbs,
			Sets:       []domain.Set{{ID: "s1", Weight: "100", Reps: "5"}},
		}},
	}

	rec := s.do(t, http.MethodPost, "/api/v1/workouts", token, draft)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Workout](t, rec)
	require.NotNil(t, created.Duration)
	assert.Equal(t, 47, *created.Duration)
	assert.Equal(t, "45.3592", created.Exercises[0].Sets[0].Weight)

	rec = s.do(t, http.MethodGet, "/api/v1/workouts/"+created.ID+"?units=display", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", decode[domain.Workout](t, rec).Exercises[0].Sets[0].Weight)

	created.Name = "Morning lift"
	rec = s.do(t, http.MethodPut, "/api/v1/workouts/"+created.ID, token, created)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Morning lift", decode[domain.Workout](t, rec).Name)

	rec = s.do(t, http.MethodPost, "/api/v1/workouts", token, domain.WorkoutDraft{Name: " ", StartTime: start})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/workouts/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/workouts/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.engine.Flush(ctx))

	rec = s.do(t, http.MethodGet, "/api/v1/sync/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[SyncStatusResponse](t, rec)
	assert.Zero(t, status.PendingWrites)
	assert.Equal(t, "unknown", status.Network)
}

func TestDraftEndpoints(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com", "Alice").Token

	start := time.Now().UTC().Add(-time.Hour)
	rec := s.do(t, http.MethodPut, "/api/v1/workouts/draft", token, domain.WorkoutDraft{
		Name:      "Evening",
		StartTime: start,
		Exercises: []domain.Exercise{{ID: "ex1", Name: "Row", WeightUnit: domain.WeightKg}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[DraftResponse](t, rec)
	assert.Equal(t, "Evening", got.Summary.Name)
	assert.Equal(t, 1, got.Summary.ExerciseCount)

	rec = s.do(t, http.MethodPost, "/api/v1/workouts/draft/finish", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/workouts/draft", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[DraftResponse](t, rec).Draft.Name)

	rec = s.do(t, http.MethodPost, "/api/v1/workouts/draft/finish", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty draft name")
}

func TestProfileEndpoints(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com", "Alice").Token

	require.Eventually(t, func() bool {
		return s.do(t, http.MethodGet, "/api/v1/profile", token, nil).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	rec := s.do(t, http.MethodPut, "/api/v1/profile/units", token, UpdateUnitsRequest{WeightUnit: domain.WeightLbs})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/v1/profile/units", token, map[string]string{"weightUnit": "stone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	weight := "abc"
	rec = s.do(t, http.MethodPut, "/api/v1/profile/metrics", token, UpdateMetricsRequest{Weight: &weight})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	weight = "220"
	rec = s.do(t, http.MethodPut, "/api/v1/profile/metrics", token, UpdateMetricsRequest{Weight: &weight})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[service.ProfileView](t, rec)
	assert.Equal(t, "99.79024", view.Profile.Weight)
	assert.Equal(t, "220", view.DisplayWeight)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/profile/avatar", bytes.NewReader([]byte("jpeg")))
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Authorization", "Bearer "+token)
	up := httptest.NewRecorder()
	s.router.ServeHTTP(up, req)
	require.Equal(t, http.StatusOK, up.Code, up.Body.String())
	assert.Contains(t, decode[AvatarResponse](t, up).PhotoURL, "profile_pictures/")

	rec = s.do(t, http.MethodGet, "/api/v1/profile/avatar", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/profile/avatar/url", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/v1/profile/avatar", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/profile/avatar", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/profile/avatar/url", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
