package movement

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultMaxDeltaPerTick 单次提议允许的最大位移
const DefaultMaxDeltaPerTick = 0.5

// Verdict 反作弊判定结果
type Verdict int

const (
	VerdictAccepted  Verdict = iota // 接受并提交
	VerdictUnchanged                // 位置未变，直接放行
	VerdictTooFar                   // 位移超限
	VerdictBlocked                  // 目标位置与其他碰撞体重叠
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictUnchanged:
		return "unchanged"
	case VerdictTooFar:
		return "too_far"
	case VerdictBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision 单次校验的完整结论
type Decision struct {
	Verdict  Verdict
	Distance float64
	Hits     int
	// Correction 拒绝时客户端应恢复到的最后合法位置
	Correction mgl64.Vec3
}

// Accepted 是否允许提交
func (d Decision) Accepted() bool {
	return d.Verdict == VerdictAccepted || d.Verdict == VerdictUnchanged
}

// Validator 校验客户端对自身位置的直接提议。
//
// 已知未处理的情形：主动传送、出生点即卡在碰撞体内、下落中单次位移超限。
// 这些情形目前都按常规规则判定（通常被拒绝）。
type Validator struct {
	MaxDelta float64
	Half     mgl64.Vec3
	// Query 必须把提议者自身当前的包围盒也计入命中
	Query OverlapQuery
}

// NewValidator 使用默认阈值与玩家尺寸
func NewValidator(q OverlapQuery) *Validator {
	return &Validator{MaxDelta: DefaultMaxDeltaPerTick, Half: DefaultHalfExtents, Query: q}
}

// Validate 按顺序判定：未移动 -> 距离 -> 重叠
func (v *Validator) Validate(current, proposed mgl64.Vec3) Decision {
	if proposed == current {
		return Decision{Verdict: VerdictUnchanged}
	}

	dist := current.Sub(proposed).Len()
	if dist > v.MaxDelta {
		return Decision{Verdict: VerdictTooFar, Distance: dist, Correction: current}
	}

	hits := 0
	if v.Query != nil {
		hits = v.Query.Overlap(proposed, v.Half)
	}
	if hits > 1 {
		return Decision{Verdict: VerdictBlocked, Distance: dist, Hits: hits, Correction: current}
	}
	return Decision{Verdict: VerdictAccepted, Distance: dist, Hits: hits}
}
