package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(f float64) *float64 { return &f }

func entries(teamID uint64, n int, amount string, w *float64) []Entry {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Entry{UserID: uint64(100 + i), TeamID: teamID, Amount: dec(amount), Weight: w})
	}
	return out
}

func TestScoreTeamRelativeAtMax(t *testing.T) {
	p, err := NewRelative(5.0)
	require.NoError(t, err)

	score := ScoreTeam(p, 1, entries(1, 5, "1", nil), 5)
	assert.EqualValues(t, 5, score.ChainLength)
	assert.Equal(t, 1.0, score.Multiplier)
	assert.True(t, score.TotalDeposit.Equal(dec("5")))
	assert.True(t, score.TotalPoints.Equal(dec("5")), score.TotalPoints.String())
}

func TestScoreTeamTieredWeighted(t *testing.T) {
	p, err := NewTiered(nil)
	require.NoError(t, err)

	score := ScoreTeam(p, 7, entries(7, 3, "1", ptr(0.5)), 10)
	assert.EqualValues(t, 3, score.ChainLength)
	assert.Equal(t, 5.0, score.Multiplier)
	assert.True(t, score.TotalPoints.Equal(dec("7.5")), score.TotalPoints.String())
}

func TestScoreTeamEmpty(t *testing.T) {
	p, _ := NewTiered(nil)
	score := ScoreTeam(p, 3, nil, 0)
	assert.Zero(t, score.ChainLength)
	assert.True(t, score.TotalDeposit.IsZero())
	assert.True(t, score.TotalPoints.IsZero())
}

func TestWeightClampAndDefault(t *testing.T) {
	assert.True(t, Weight(nil).Equal(dec("1")))
	assert.True(t, Weight(ptr(-0.3)).Equal(dec("0")))
	assert.True(t, Weight(ptr(1.7)).Equal(dec("1")))
	assert.True(t, Weight(ptr(0.25)).Equal(dec("0.25")))
}

func TestScoreGameUsesGlobalMax(t *testing.T) {
	p, _ := NewRelative(5.0)
	var all []Entry
	all = append(all, entries(1, 10, "1", nil)...)
	all = append(all, entries(2, 5, "1", nil)...)

	scores := ScoreGame(p, []uint64{1, 2, 3}, all)
	require.Len(t, scores, 3)

	assert.Equal(t, 1.0, scores[1].Multiplier)
	assert.True(t, scores[1].TotalPoints.Equal(dec("10")))
	assert.Equal(t, 3.0, scores[2].Multiplier)
	assert.True(t, scores[2].TotalPoints.Equal(dec("15")))
	assert.Zero(t, scores[3].ChainLength)
	assert.Equal(t, 5.0, scores[3].Multiplier)
	assert.True(t, scores[3].TotalPoints.IsZero())
}

func TestScoreGameIsIdempotent(t *testing.T) {
	p, _ := NewRelative(3.5)
	all := append(entries(1, 4, "1", ptr(0.8)), entries(2, 7, "2", ptr(0.3))...)

	first := ScoreGame(p, []uint64{1, 2}, all)
	second := ScoreGame(p, []uint64{1, 2}, all)
	for id := range first {
		assert.Equal(t, first[id].ChainLength, second[id].ChainLength)
		assert.True(t, first[id].TotalPoints.Equal(second[id].TotalPoints))
		assert.True(t, first[id].TotalDeposit.Equal(second[id].TotalDeposit))
	}
}

func TestSortLeaderboard(t *testing.T) {
	scores := []TeamScore{
		{TeamID: 3, ChainLength: 2, TotalPoints: dec("10")},
		{TeamID: 1, ChainLength: 4, TotalPoints: dec("10")},
		{TeamID: 2, ChainLength: 4, TotalPoints: dec("10")},
		{TeamID: 4, ChainLength: 1, TotalPoints: dec("12")},
	}
	SortLeaderboard(scores)

	ids := make([]uint64, 0, len(scores))
	for _, s := range scores {
		ids = append(ids, s.TeamID)
	}
	assert.Equal(t, []uint64{4, 1, 2, 3}, ids)
}

func TestMaxChainLength(t *testing.T) {
	all := append(entries(1, 2, "1", nil), entries(2, 6, "1", nil)...)
	assert.EqualValues(t, 6, MaxChainLength(all))
	assert.Zero(t, MaxChainLength(nil))
}
