package scoring

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PointsPrecision 积分保留小数位
const PointsPrecision = 6

// Entry 计分所需的一条入金账本记录
type Entry struct {
	UserID uint64
	TeamID uint64
	Amount decimal.Decimal
	Weight *float64
}

// TeamScore 单个队伍的聚合结果
type TeamScore struct {
	TeamID       uint64          `json:"team_id"`
	ChainLength  int64           `json:"chain_length"`
	Multiplier   float64         `json:"multiplier"`
	TotalDeposit decimal.Decimal `json:"total_deposit"`
	TotalPoints  decimal.Decimal `json:"total_points"`
}

// Weight 质量分权重：空为 1，截断到 [0,1]
func Weight(w *float64) decimal.Decimal {
	if w == nil || *w != *w {
		return decimal.NewFromInt(1)
	}
	switch {
	case *w <= 0:
		return decimal.Zero
	case *w >= 1:
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(*w)
}

// Points amount * multiplier * weight
func Points(amount decimal.Decimal, multiplier float64, w *float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(multiplier)).Mul(Weight(w))
}

// ScoreTeam 按账本快照计算队伍聚合；队伍当前乘数作用于其全部历史入金
func ScoreTeam(policy Policy, teamID uint64, entries []Entry, maxChainLength int64) TeamScore {
	score := TeamScore{TeamID: teamID, TotalDeposit: decimal.Zero, TotalPoints: decimal.Zero}
	for _, e := range entries {
		if e.TeamID == teamID {
			score.ChainLength++
		}
	}
	score.Multiplier = policy.Multiplier(score.ChainLength, maxChainLength)
	for _, e := range entries {
		if e.TeamID != teamID {
			continue
		}
		score.TotalDeposit = score.TotalDeposit.Add(e.Amount)
		score.TotalPoints = score.TotalPoints.Add(Points(e.Amount, score.Multiplier, e.Weight))
	}
	score.TotalPoints = score.TotalPoints.Round(PointsPrecision)
	return score
}

// ScoreGame 计算一局内所有队伍的聚合；teamIDs 中无入金的队伍结果全为 0
func ScoreGame(policy Policy, teamIDs []uint64, entries []Entry) map[uint64]TeamScore {
	lengths := make(map[uint64]int64, len(teamIDs))
	for _, e := range entries {
		lengths[e.TeamID]++
	}
	var maxLen int64
	for _, n := range lengths {
		if n > maxLen {
			maxLen = n
		}
	}
	byTeam := make(map[uint64][]Entry, len(teamIDs))
	for _, e := range entries {
		byTeam[e.TeamID] = append(byTeam[e.TeamID], e)
	}
	out := make(map[uint64]TeamScore, len(teamIDs))
	for _, id := range teamIDs {
		out[id] = ScoreTeam(policy, id, byTeam[id], maxLen)
	}
	return out
}

// MaxChainLength 一局内最大链长
func MaxChainLength(entries []Entry) int64 {
	lengths := make(map[uint64]int64)
	var maxLen int64
	for _, e := range entries {
		lengths[e.TeamID]++
		if lengths[e.TeamID] > maxLen {
			maxLen = lengths[e.TeamID]
		}
	}
	return maxLen
}

// SortLeaderboard 排行：积分降序，链长降序，队伍ID升序
func SortLeaderboard(scores []TeamScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if c := scores[i].TotalPoints.Cmp(scores[j].TotalPoints); c != 0 {
			return c > 0
		}
		if scores[i].ChainLength != scores[j].ChainLength {
			return scores[i].ChainLength > scores[j].ChainLength
		}
		return scores[i].TeamID < scores[j].TeamID
	})
}
