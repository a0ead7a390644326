package movement

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// 接触判定容差
const contactEpsilon = 1e-9

// OverlapQuery 包围盒重叠查询
type OverlapQuery interface {
	// Overlap 返回与以 center 为中心、half 为半尺寸的包围盒相交的碰撞体数量
	Overlap(center, half mgl64.Vec3) int
}

// World 仿真依赖的碰撞世界（外部协作者），查询必须同步且耗时有界
type World interface {
	OverlapQuery
	// Sweep 沿 delta 扫掠包围盒，返回最终位置以及是否落地
	Sweep(from, delta, half mgl64.Vec3) (mgl64.Vec3, bool)
}

// Box 轴对齐静态碰撞体
type Box struct {
	Min mgl64.Vec3 `yaml:"min"`
	Max mgl64.Vec3 `yaml:"max"`
}

// BoxAround 以中心与半尺寸构造包围盒
func BoxAround(center, half mgl64.Vec3) Box {
	return Box{Min: center.Sub(half), Max: center.Add(half)}
}

// Overlaps 严格相交（仅接触不算）
func (b Box) Overlaps(o Box) bool {
	for a := 0; a < 3; a++ {
		if b.Min[a] >= o.Max[a]-contactEpsilon || b.Max[a] <= o.Min[a]+contactEpsilon {
			return false
		}
	}
	return true
}

// BoxWorld 地面平面加若干静态盒子
type BoxWorld struct {
	GroundY float64
	Boxes   []Box
}

// EmptyWorld 只有 y=0 地面的世界
var EmptyWorld = &BoxWorld{}

// Overlap 实现 OverlapQuery；穿入地面也计为一次命中
func (w *BoxWorld) Overlap(center, half mgl64.Vec3) int {
	body := BoxAround(center, half)
	hits := 0
	if body.Min[1] < w.GroundY-contactEpsilon {
		hits++
	}
	for _, b := range w.Boxes {
		if body.Overlaps(b) {
			hits++
		}
	}
	return hits
}

// Sweep 按 X、Z、Y 顺序逐轴推进，遇到障碍停在边界上
func (w *BoxWorld) Sweep(from, delta, half mgl64.Vec3) (mgl64.Vec3, bool) {
	pos := from
	for _, axis := range [...]int{0, 2} {
		pos[axis] = w.resolveAxis(pos, axis, delta[axis], half)
	}

	target := pos[1] + delta[1]
	pos[1] = w.resolveAxis(pos, 1, delta[1], half)
	floor := w.GroundY + half[1]
	if pos[1] < floor {
		pos[1] = floor
	}
	grounded := delta[1] < 0 && pos[1] > target
	return pos, grounded
}

// resolveAxis 单轴移动并在穿越障碍边界时截断
func (w *BoxWorld) resolveAxis(pos mgl64.Vec3, axis int, d float64, half mgl64.Vec3) float64 {
	cur := pos[axis]
	next := cur + d
	if d == 0 {
		return cur
	}
	for _, b := range w.Boxes {
		if !overlapsOtherAxes(pos, half, b, axis) {
			continue
		}
		if d > 0 {
			boundary := b.Min[axis] - half[axis]
			if cur <= boundary+contactEpsilon && next > boundary {
				next = boundary
			}
		} else {
			boundary := b.Max[axis] + half[axis]
			if cur >= boundary-contactEpsilon && next < boundary {
				next = boundary
			}
		}
	}
	return next
}

// supportEpsilon 判定"站在表面上"的容差，覆盖线上 float32 的精度损失
const supportEpsilon = 1e-4

// Supported 包围盒底面是否贴在地面或某个盒子顶面上
func (w *BoxWorld) Supported(center, half mgl64.Vec3) bool {
	bottom := center[1] - half[1]
	if bottom <= w.GroundY+supportEpsilon {
		return true
	}
	for _, b := range w.Boxes {
		if math.Abs(bottom-b.Max[1]) <= supportEpsilon && overlapsOtherAxes(center, half, b, 1) {
			return true
		}
	}
	return false
}

func overlapsOtherAxes(pos, half mgl64.Vec3, b Box, axis int) bool {
	for a := 0; a < 3; a++ {
		if a == axis {
			continue
		}
		if pos[a]-half[a] >= b.Max[a]-contactEpsilon || pos[a]+half[a] <= b.Min[a]+contactEpsilon {
			return false
		}
	}
	return true
}
