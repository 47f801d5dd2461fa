package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/chain"
	"Dollarchain/internal/config"
	"Dollarchain/internal/events"
	"Dollarchain/internal/model"
	"Dollarchain/internal/profile"
	"Dollarchain/internal/repository/repotest"
	"Dollarchain/internal/scoring"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func strPtr(s string) *string { return &s }

func f64(f float64) *float64 { return &f }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func txHash(n int) string {
	const hex = "0123456789abcdef"
	b := []byte("0x")
	for i := 0; i < 64; i++ {
		b = append(b, hex[(n+i)%16])
	}
	return string(b)
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[uint64]*profile.Profile
	err      error
}

func (f *fakeProfiles) Lookup(_ context.Context, fid uint64) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[fid]
	if !ok {
		return nil, profile.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeVerifier struct {
	mu       sync.Mutex
	calls    int
	err      error
	onVerify func() // 确认期间插入的并发操作
}

func (f *fakeVerifier) VerifyTransfer(_ context.Context, hash, from string) (*chain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onVerify != nil {
		f.onVerify()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &chain.Transfer{TxHash: hash, From: from, Amount: decimal.NewFromInt(1)}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.DepositAccepted
	err    error
}

func (f *fakePublisher) PublishDepositAccepted(_ context.Context, ev events.DepositAccepted) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []events.DepositAccepted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.DepositAccepted(nil), f.events...)
}

type fixture struct {
	store     *repotest.Store
	profiles  *fakeProfiles
	verifier  *fakeVerifier
	publisher *fakePublisher
	scoring   *ScoringService
	stats     *StatsService
	deposits  *DepositService
	games     *GameService
	payouts   *PayoutService
	game      model.Game
	now       time.Time
}

func gameConfig() *config.GameConfig {
	return &config.GameConfig{
		DepositCooldown:    time.Hour,
		MaxDepositsPerGame: 48,
		DepositAmount:      "1",
		RequireTransaction: true,
		PayoutPrecision:    2,
	}
}

func newFixture(t *testing.T, policy scoring.Policy) *fixture {
	t.Helper()
	if policy == nil {
		p, err := scoring.NewRelative(5)
		require.NoError(t, err)
		policy = p
	}
	logger := testLogger()
	f := &fixture{
		store:     repotest.New(),
		profiles:  &fakeProfiles{profiles: map[uint64]*profile.Profile{}},
		verifier:  &fakeVerifier{},
		publisher: &fakePublisher{},
		now:       t0,
	}
	f.store.Now = f.clock
	f.scoring = NewScoringService(f.store, policy, logger)
	f.stats = NewStatsService(f.store, policy, nil, time.Minute, logger)
	svc, err := NewDepositService(f.store, gameConfig(), f.scoring, f.stats, f.profiles, f.verifier, f.publisher, logger)
	require.NoError(t, err)
	svc.SetClock(f.clock)
	f.deposits = svc
	f.games = NewGameService(f.store, f.scoring, logger)
	f.games.SetClock(f.clock)
	f.payouts = NewPayoutService(f.store, 2, logger)
	f.game = f.store.SeedGame(model.Game{StartsAt: t0.Add(-24 * time.Hour)})
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// addUser 登记一个有收款地址的用户资料
func (f *fixture) addUser(fid uint64, score *float64) {
	f.profiles.mu.Lock()
	defer f.profiles.mu.Unlock()
	f.profiles.profiles[fid] = &profile.Profile{
		FID:             fid,
		Username:        fmt.Sprintf("user%d", fid),
		Score:           score,
		VerifiedAddress: strPtr("0x00000000000000000000000000000000000000aa"),
	}
}

func (f *fixture) addTeam(owner uint64, name string) model.Team {
	return f.store.SeedTeam(model.Team{GameID: f.game.ID, OwnerID: owner, Name: name})
}

func requireReason(t *testing.T, err error, reason apperr.Reason) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, reason, apperr.ReasonOf(err), "error: %v", err)
}

var errDown = errors.New("connection refused")
