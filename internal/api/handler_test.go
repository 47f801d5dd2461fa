package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"Dollarchain/internal/chain"
	"Dollarchain/internal/config"
	"Dollarchain/internal/model"
	"Dollarchain/internal/profile"
	"Dollarchain/internal/repository/repotest"
	"Dollarchain/internal/scoring"
	"Dollarchain/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hashA = "0x1111111111111111111111111111111111111111111111111111111111111111"

type stubProfiles struct{}

func (stubProfiles) Lookup(_ context.Context, fid uint64) (*profile.Profile, error) {
	if fid == 404 {
		return nil, profile.ErrNotFound
	}
	addr := "0x00000000000000000000000000000000000000aa"
	return &profile.Profile{FID: fid, Username: "u", VerifiedAddress: &addr}, nil
}

type stubVerifier struct{}

func (stubVerifier) VerifyTransfer(_ context.Context, hash, from string) (*chain.Transfer, error) {
	return &chain.Transfer{TxHash: hash, From: from, Amount: decimal.NewFromInt(1)}, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int) (bool, time.Duration, error) {
	return false, 29500 * time.Millisecond, nil
}

type testServer struct {
	engine *gin.Engine
	store  *repotest.Store
	game   model.Game
	team   model.Team
}

func newTestServer(t *testing.T, limiterDenies bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repotest.New()
	policy, err := scoring.NewRelative(5)
	require.NoError(t, err)
	scoringSvc := service.NewScoringService(store, policy, logger)
	stats := service.NewStatsService(store, policy, nil, time.Minute, logger)
	deposits, err := service.NewDepositService(store, &config.GameConfig{
		DepositCooldown:    time.Hour,
		MaxDepositsPerGame: 48,
		DepositAmount:      "1",
		RequireTransaction: true,
	}, scoringSvc, stats, stubProfiles{}, stubVerifier{}, nil, logger)
	require.NoError(t, err)

	var depositHandler *DepositHandler
	if limiterDenies {
		depositHandler = NewDepositHandler(deposits, denyAll{}, 10, logger)
	} else {
		depositHandler = NewDepositHandler(deposits, nil, 0, logger)
	}

	r := gin.New()
	RegisterRoutes(r, Handlers{
		Deposits: depositHandler,
		Games:    NewGameHandler(service.NewGameService(store, scoringSvc, logger), stats, service.NewPayoutService(store, 2, logger), logger),
		Teams:    NewTeamHandler(service.NewTeamService(store, logger), stats, logger),
	})

	s := &testServer{engine: r, store: store}
	s.game = store.SeedGame(model.Game{})
	s.team = store.SeedTeam(model.Team{GameID: s.game.ID, OwnerID: 1, Name: "alpha"})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	w, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestPostDepositAccepted(t *testing.T) {
	s := newTestServer(t, false)
	w, body := s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": hashA})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, body["deposit_uuid"])
	team := body["team"].(map[string]any)
	assert.EqualValues(t, 1, team["chain_length"])
}

func TestPostDepositErrorMapping(t *testing.T) {
	s := newTestServer(t, false)
	w, _ := s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": hashA})
	require.Equal(t, http.StatusCreated, w.Code)

	// 同一用户冷却期内 → 429 + Retry-After
	w, body := s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": "0x2222222222222222222222222222222222222222222222222222222222222222"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", body["reason"])
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))

	// 另一用户复用同一交易 → 409
	w, body = s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 2, "team_id": s.team.ID, "tx_hash": hashA})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_TRANSACTION", body["reason"])

	// 非法参数 → 400
	w, _ = s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 2, "team_id": s.team.ID, "tx_hash": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 依赖不可用 → 503 通用文案
	s.store.Fail["Transaction"] = assert.AnError
	w, body = s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 3, "team_id": s.team.ID, "tx_hash": "0x3333333333333333333333333333333333333333333333333333333333333333"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Something went wrong on our side. Please retry later.", body["error"])
}

func TestPostDepositThrottled(t *testing.T) {
	s := newTestServer(t, true)
	w, body := s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": hashA})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.EqualValues(t, 30, body["retry_after_seconds"])
	assert.Equal(t, "TOO_MANY_REQUESTS", body["reason"])
	assert.Empty(t, s.store.AllDeposits())
}

func TestEligibility(t *testing.T) {
	s := newTestServer(t, false)
	w, body := s.do(t, http.MethodGet, "/api/users/7/eligibility", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["eligible"])
	assert.Equal(t, "NO_PAYMENT_METHOD", body["reason"])

	addr := "0xabc"
	s.store.SeedUser(model.User{FID: 7, VerifiedAddress: &addr})
	w, body = s.do(t, http.MethodGet, "/api/users/7/eligibility", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["eligible"])

	w, _ = s.do(t, http.MethodGet, "/api/users/abc/eligibility", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEligibilityRoundsRetryAfterUp(t *testing.T) {
	s := newTestServer(t, false)
	w, _ := s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": hashA})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/users/1/eligibility", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RATE_LIMITED", body["reason"])
	assert.EqualValues(t, 3600, body["retry_after_seconds"])

	w, body = s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": hashA})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.EqualValues(t, 3600, body["retry_after_seconds"])
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.EqualValues(t, 1, retryAfterSeconds(400*time.Millisecond))
	assert.EqualValues(t, 1, retryAfterSeconds(time.Second))
	assert.EqualValues(t, 60, retryAfterSeconds(59*time.Second+time.Nanosecond))
}

func TestLeaderboardAndStats(t *testing.T) {
	s := newTestServer(t, false)
	w, _ := s.do(t, http.MethodPost, "/api/deposits", gin.H{"user_id": 1, "team_id": s.team.ID, "tx_hash": hashA})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/games/active/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	teams := body["teams"].([]any)
	require.Len(t, teams, 1)
	assert.EqualValues(t, 1, teams[0].(map[string]any)["rank"])

	w, _ = s.do(t, http.MethodGet, "/api/games/999/leaderboard", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/teams/"+itoa(s.team.ID)+"/stats?game_id="+itoa(s.game.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alpha", body["name"])

	w, _ = s.do(t, http.MethodGet, "/api/teams/"+itoa(s.team.ID)+"/stats?game_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/games/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, s.game.ID, body["game_id"])
}

func TestPayoutsOfActiveGameIsBadRequest(t *testing.T) {
	s := newTestServer(t, false)
	w, _ := s.do(t, http.MethodGet, "/api/games/"+itoa(s.game.ID)+"/payouts", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTeam(t *testing.T) {
	s := newTestServer(t, false)
	addr := "0xabc"
	s.store.SeedUser(model.User{FID: 5, VerifiedAddress: &addr})

	w, body := s.do(t, http.MethodPost, "/api/teams", gin.H{"owner_id": 5, "name": "beta"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "beta", body["name"])

	w, _ = s.do(t, http.MethodPost, "/api/teams", gin.H{"owner_id": 5, "name": "beta"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/teams", gin.H{"owner_id": 6, "name": "gamma"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NO_PAYMENT_METHOD", body["reason"])
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }
