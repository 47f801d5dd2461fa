package scoring

import (
	"fmt"
	"sort"
	"strings"
)

// 策略名称
const (
	PolicyRelative = "relative"
	PolicyTiered   = "tiered"
)

// Policy 链长乘数策略：multiplier(chain_length, max_chain_length) >= 1
type Policy interface {
	Name() string
	Multiplier(chainLength, maxChainLength int64) float64
	// Global 为 true 时乘数依赖全局最大链长，任一队伍链长变化都需要整局重算
	Global() bool
}

// Tier 阶梯：链长 <= MaxLength 时乘数为 Multiplier
type Tier struct {
	MaxLength  int64
	Multiplier float64
}

// DefaultTiers 默认阶梯 ≤5→5，≤10→3，≤15→2，其余 1
func DefaultTiers() []Tier {
	return []Tier{
		{MaxLength: 5, Multiplier: 5},
		{MaxLength: 10, Multiplier: 3},
		{MaxLength: 15, Multiplier: 2},
	}
}

// Tiered 阶梯策略，与其他队伍无关
type Tiered struct {
	tiers []Tier
}

// NewTiered 创建阶梯策略；tiers 为空使用默认阶梯。阶梯乘数必须随链长单调不增且不小于 1
func NewTiered(tiers []Tier) (*Tiered, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaxLength < sorted[j].MaxLength })
	for i, t := range sorted {
		if t.Multiplier < 1 {
			return nil, fmt.Errorf("tier %d: multiplier %v < 1", t.MaxLength, t.Multiplier)
		}
		if i > 0 {
			if t.MaxLength == sorted[i-1].MaxLength {
				return nil, fmt.Errorf("duplicate tier max_length %d", t.MaxLength)
			}
			if t.Multiplier > sorted[i-1].Multiplier {
				return nil, fmt.Errorf("tier %d: multiplier must not increase with chain length", t.MaxLength)
			}
		}
	}
	return &Tiered{tiers: sorted}, nil
}

func (t *Tiered) Name() string { return PolicyTiered }
func (t *Tiered) Global() bool { return false }

func (t *Tiered) Multiplier(chainLength, _ int64) float64 {
	for _, tier := range t.tiers {
		if chainLength <= tier.MaxLength {
			return tier.Multiplier
		}
	}
	return 1
}

// Relative 相对策略：max(1, High - (High-1) * chain_length / max_chain_length)
type Relative struct {
	High float64
}

// NewRelative 创建相对策略，high 必须 >= 1
func NewRelative(high float64) (*Relative, error) {
	if high < 1 {
		return nil, fmt.Errorf("relative policy high %v < 1", high)
	}
	return &Relative{High: high}, nil
}

func (r *Relative) Name() string { return PolicyRelative }
func (r *Relative) Global() bool { return true }

func (r *Relative) Multiplier(chainLength, maxChainLength int64) float64 {
	if maxChainLength <= 0 {
		return 1
	}
	m := r.High - (r.High-1)*float64(chainLength)/float64(maxChainLength)
	if m < 1 {
		return 1
	}
	return m
}

// NewPolicy 按名称构建策略
func NewPolicy(name string, high float64, tiers []Tier) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyRelative, "":
		return NewRelative(high)
	case PolicyTiered:
		return NewTiered(tiers)
	default:
		return nil, fmt.Errorf("unknown multiplier policy %q", name)
	}
}
