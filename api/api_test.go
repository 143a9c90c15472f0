package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campus-election-backend/auth"
	"campus-election-backend/authz"
	"campus-election-backend/clock"
	"campus-election-backend/database"
	"campus-election-backend/errs"
	"campus-election-backend/migrations"
	"campus-election-backend/models"
	"campus-election-backend/service"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5  = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	jan10 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
)

type testServer struct {
	router *gin.Engine
	tokens *auth.Tokens
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))
	t.Cleanup(func() { database.Close(db) })

	deps := service.NewDeps(db, nil, clock.NewFixed(jan5), nil, zap.NewNop())
	registry := service.NewElectionRegistry(deps)
	gate := service.NewCandidacyGate(deps)
	box := service.NewBallotBox(deps)
	results := service.NewResultsPublisher(deps)
	tokens := auth.NewTokens("test-secret", "campus-election", time.Hour)

	r := gin.New()
	r.Use(auth.Authenticate(tokens))
	group := r.Group("/api")
	NewTokenController(tokens).RegisterRoutes(group)
	NewElectionController(registry, gate, results).RegisterRoutes(group)
	NewCandidateController(gate).RegisterRoutes(group)
	NewVoteController(box, results).RegisterRoutes(group)
	NewNotificationController(service.NewNoticeBoard(deps), service.NewAuditTrail(deps)).RegisterRoutes(group)

	return &testServer{router: r, tokens: tokens}
}

func (s *testServer) token(t *testing.T, userID string, role authz.Role) string {
	t.Helper()
	tok, _, err := s.tokens.Issue(authz.Principal{UserID: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Validation("bad"), http.StatusBadRequest},
		{errs.ErrElectionNotFound, http.StatusNotFound},
		{errs.ErrAlreadyVoted, http.StatusConflict},
		{errs.ErrVoterNotEligible, http.StatusForbidden},
		{errs.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", errs.ErrUnauthenticated), http.StatusUnauthorized},
		{errs.ErrElectionNotOpen, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestElectionFlow(t *testing.T) {
	s := setupServer(t)
	adminTok := s.token(t, "admin-1", authz.RoleAdmin)
	aliceTok := s.token(t, "alice", authz.RoleStudent)
	bobTok := s.token(t, "bob", authz.RoleStudent)

	w := s.do(t, http.MethodPost, "/api/elections", aliceTok, service.ElectionInput{
		Title: "Union 2024", StartTime: jan1, EndTime: jan10, Positions: []string{"President"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/elections", adminTok, service.ElectionInput{
		Title: "Union 2024", StartTime: jan1, EndTime: jan10, Positions: []string{"President"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var e models.Election
	decode(t, w, &e)
	assert.Equal(t, models.StatusOngoing, e.Status)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/elections/%d", e.ID), "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/candidates", aliceTok, service.SubmitInput{
		ElectionID:       e.ID,
		Position:         "President",
		CandidateDetails: models.CandidateDetails{Name: "Alice"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cand models.Candidate
	decode(t, w, &cand)
	assert.Equal(t, models.ApprovalPending, cand.ApprovalState)

	ballot := VoteRequest{ElectionID: e.ID, CandidateID: cand.ID}
	w = s.do(t, http.MethodPost, "/api/votes", bobTok, ballot)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/candidates/%d/approve", cand.ID), adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/votes", "", ballot)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/votes", bobTok, ballot)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/votes", bobTok, ballot)
	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, ErrorResponse{Error: "already voted", Kind: errs.KindConflict}, body)

	w = s.do(t, http.MethodGet, "/api/votes/me", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []models.Vote
	decode(t, w, &mine)
	assert.Len(t, mine, 1)

	resultsPath := fmt.Sprintf("/api/elections/%d/results", e.ID)
	for _, tok := range []string{bobTok, ""} {
		w = s.do(t, http.MethodGet, resultsPath, tok, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/admin/elections/%d/tally", e.ID), adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report TallyReport
	decode(t, w, &report)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(1), report.Results.TotalVotes)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/elections/%d/publish-results", e.ID), adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, resultsPath, "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, resultsPath, bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.ElectionResults
	decode(t, w, &res)
	require.Len(t, res.Positions, 1)
	require.Len(t, res.Positions[0].Candidates, 1)
	assert.True(t, res.Positions[0].Candidates[0].Winner)
	assert.Equal(t, int64(1), res.Positions[0].Candidates[0].VoteCount)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/candidates/%d", cand.ID), adminTok, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCandidateRoutes(t *testing.T) {
	s := setupServer(t)
	adminTok := s.token(t, "admin-1", authz.RoleAdmin)
	aliceTok := s.token(t, "alice", authz.RoleStudent)

	w := s.do(t, http.MethodPost, "/api/elections", adminTok, service.ElectionInput{
		Title: "Senate", StartTime: jan1, EndTime: jan10, Positions: []string{"Senator"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var e models.Election
	decode(t, w, &e)

	w = s.do(t, http.MethodPost, "/api/candidates", aliceTok, service.SubmitInput{
		ElectionID: e.ID, Position: "Senator", CandidateDetails: models.CandidateDetails{Name: "Alice"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/candidates/me", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []models.Candidate
	decode(t, w, &mine)
	require.Len(t, mine, 1)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/elections/%d/candidates", e.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var visible []models.Candidate
	decode(t, w, &visible)
	assert.Empty(t, visible)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/elections/%d/candidates?all=true", e.ID), adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &visible)
	assert.Len(t, visible, 1)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/candidates/me/%d", e.ID), aliceTok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/candidates/%d", mine[0].ID), aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/candidates/abc", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationRoutes(t *testing.T) {
	s := setupServer(t)
	adminTok := s.token(t, "admin-1", authz.RoleAdmin)
	aliceTok := s.token(t, "alice", authz.RoleStudent)

	w := s.do(t, http.MethodPost, "/api/notifications", aliceTok, service.NotificationInput{Title: "t", Message: "m"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/notifications", adminTok, service.NotificationInput{Title: "Polls open", Message: "Vote today"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var n models.Notification
	decode(t, w, &n)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", n.ID), aliceTok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/notifications", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Notification
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)

	w = s.do(t, http.MethodGet, "/api/logs", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/logs", adminTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueToken(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodPost, "/api/auth/token", "", authz.Principal{UserID: "carol", Role: authz.RoleStudent})
	require.Equal(t, http.StatusOK, w.Code)
	var resp TokenResponse
	decode(t, w, &resp)

	claims, err := s.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.Subject)

	w = s.do(t, http.MethodPost, "/api/auth/token", "", authz.Principal{UserID: "carol", Role: "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
