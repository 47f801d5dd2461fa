package service

import (
	"context"
	"testing"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardCheckOrder(t *testing.T) {
	store := repotest.New()
	guard := NewGuard(GuardConfig{Cooldown: time.Hour, MaxDeposits: 2}, func() time.Time { return t0 })
	ctx := context.Background()
	user := &model.User{FID: 1}

	// 无地址优先于无对局
	_, err := guard.Check(ctx, store, user, "")
	requireReason(t, err, apperr.ReasonNoPaymentMethod)

	user.VerifiedAddress = strPtr("0x00000000000000000000000000000000000000aa")
	_, err = guard.Check(ctx, store, user, "")
	requireReason(t, err, apperr.ReasonNoActiveGame)

	game := store.SeedGame(model.Game{})
	got, err := guard.Check(ctx, store, user, txHash(1))
	require.NoError(t, err)
	assert.Equal(t, game.ID, got.ID)

	store.SeedDeposit(model.Deposit{UserID: 1, GameID: game.ID, TeamID: 1, Amount: dec("1"), TxHash: strPtr(txHash(1)), CreatedAt: t0.Add(-90 * time.Minute)})
	store.SeedDeposit(model.Deposit{UserID: 1, GameID: game.ID, TeamID: 1, Amount: dec("1"), CreatedAt: t0.Add(-20 * time.Minute)})

	// 冷却期优先于次数上限与重复交易
	_, err = guard.Check(ctx, store, user, txHash(1))
	requireReason(t, err, apperr.ReasonRateLimited)
	e, _ := apperr.As(err)
	assert.Equal(t, 40*time.Minute, e.RetryAfter)

	later := NewGuard(GuardConfig{Cooldown: time.Hour, MaxDeposits: 2}, func() time.Time { return t0.Add(time.Hour) })
	_, err = later.Check(ctx, store, user, txHash(1))
	requireReason(t, err, apperr.ReasonDepositCapReached)

	roomy := NewGuard(GuardConfig{Cooldown: time.Hour, MaxDeposits: 48}, func() time.Time { return t0.Add(time.Hour) })
	_, err = roomy.Check(ctx, store, user, txHash(1))
	requireReason(t, err, apperr.ReasonDuplicateTransaction)

	_, err = roomy.Check(ctx, store, user, txHash(2))
	assert.NoError(t, err)
}

func TestGuardCooldownIsPerGame(t *testing.T) {
	store := repotest.New()
	guard := NewGuard(GuardConfig{Cooldown: time.Hour, MaxDeposits: 48}, func() time.Time { return t0 })
	user := &model.User{FID: 1, VerifiedAddress: strPtr("0x00000000000000000000000000000000000000aa")}

	old := store.SeedGame(model.Game{Status: model.GameStatusEnded})
	store.SeedDeposit(model.Deposit{UserID: 1, GameID: old.ID, TeamID: 1, Amount: dec("1"), CreatedAt: t0.Add(-time.Minute)})
	store.SeedGame(model.Game{})

	_, err := guard.Check(context.Background(), store, user, "")
	assert.NoError(t, err)
}

func TestGuardZeroCooldownDisablesWait(t *testing.T) {
	store := repotest.New()
	guard := NewGuard(GuardConfig{MaxDeposits: 48}, func() time.Time { return t0 })
	user := &model.User{FID: 1, VerifiedAddress: strPtr("0x00000000000000000000000000000000000000aa")}
	game := store.SeedGame(model.Game{})
	store.SeedDeposit(model.Deposit{UserID: 1, GameID: game.ID, TeamID: 1, Amount: dec("1"), CreatedAt: t0})

	_, err := guard.Check(context.Background(), store, user, "")
	assert.NoError(t, err)
}
