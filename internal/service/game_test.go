package service

import (
	"context"
	"testing"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGameOnlyOneActive(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.games.StartGame(context.Background(), nil, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)

	ends := t0.Add(24 * time.Hour)
	pot := dec("100")
	game, err := f.games.StartGame(context.Background(), &ends, &pot)
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusActive, game.Status)

	active, err := f.games.ActiveGame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, game.ID, active.ID)
}

func TestStartGameValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)

	past := t0.Add(-time.Minute)
	_, err = f.games.StartGame(context.Background(), &past, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	neg := dec("-1")
	_, err = f.games.StartGame(context.Background(), nil, &neg)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestEndGamePicksWinnerAndPot(t *testing.T) {
	f := newFixture(t, nil)
	a := f.addTeam(1, "alpha")
	b := f.addTeam(2, "beta")
	f.addTeam(3, "empty")
	for i := 0; i < 3; i++ {
		f.store.SeedDeposit(model.Deposit{UserID: 1, GameID: f.game.ID, TeamID: a.ID, Amount: dec("1")})
	}
	f.store.SeedDeposit(model.Deposit{UserID: 2, GameID: f.game.ID, TeamID: b.ID, Amount: dec("1")})

	res, err := f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)

	// alpha: 3 * 1 = 3；beta: 1 * (5 - 4/3) ≈ 3.666667
	require.NotNil(t, res.WinningTeamID)
	assert.Equal(t, b.ID, *res.WinningTeamID)
	assert.True(t, res.Pot.Equal(dec("4")), res.Pot.String())
	require.Len(t, res.Scores, 3)

	game, err := f.store.Games().GetByID(context.Background(), f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusEnded, game.Status)
	assert.Equal(t, b.ID, *game.WinningTeamID)

	_, err = f.games.EndGame(context.Background(), f.game.ID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestEndGameWithoutDepositsHasNoWinner(t *testing.T) {
	f := newFixture(t, nil)
	f.addTeam(1, "alpha")

	res, err := f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)
	assert.Nil(t, res.WinningTeamID)
	assert.True(t, res.Pot.IsZero())
}

func TestEndGameKeepsConfiguredPot(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)

	pot := decimal.NewFromInt(32)
	game, err := f.games.StartGame(context.Background(), nil, &pot)
	require.NoError(t, err)
	team := f.store.SeedTeam(model.Team{GameID: game.ID, OwnerID: 1, Name: "alpha"})
	f.store.SeedDeposit(model.Deposit{UserID: 1, GameID: game.ID, TeamID: team.ID, Amount: dec("1")})

	res, err := f.games.EndGame(context.Background(), game.ID)
	require.NoError(t, err)
	assert.True(t, res.Pot.Equal(pot))
}

func TestEndExpired(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)

	ends := t0.Add(time.Hour)
	game, err := f.games.StartGame(context.Background(), &ends, nil)
	require.NoError(t, err)

	results, err := f.games.EndExpired(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)

	f.advance(2 * time.Hour)
	results, err = f.games.EndExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, game.ID, results[0].GameID)

	_, err = f.games.ActiveGame(context.Background())
	requireReason(t, err, apperr.ReasonNoActiveGame)
}

func TestEndGameLocksGameBeforeTeams(t *testing.T) {
	f := newFixture(t, nil)
	f.addTeam(1, "alpha")
	f.store.ResetLocks()

	_, err := f.games.EndGame(context.Background(), f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Games.LockByID", "Teams.LockByGame"}, f.store.Locks())
}
