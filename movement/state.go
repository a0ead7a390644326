// Package movement 客户端预测与服务端权威共用的确定性移动仿真
package movement

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Up 世界竖直轴
var Up = mgl64.Vec3{0, 1, 0}

// DefaultHalfExtents 玩家包围盒半尺寸（宽 1，高 2，深 1）
var DefaultHalfExtents = mgl64.Vec3{0.5, 1, 0.5}

// State 单个玩家的仿真状态；Position 为包围盒中心，Yaw 单位为度
type State struct {
	Position mgl64.Vec3 `json:"pos"`
	Velocity mgl64.Vec3 `json:"vel"`
	Yaw      float64    `json:"yaw"`
	Grounded bool       `json:"grounded"`
}

// Spawn 在指定位置创建静止状态，落地判定由第一次仿真得出
func Spawn(pos mgl64.Vec3, yaw float64) State {
	return State{Position: pos, Yaw: normalizeYaw(yaw)}
}

// Orientation 朝向四元数（绕竖直轴旋转）
func (s State) Orientation() mgl64.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(s.Yaw), Up)
}

// Forward 当前朝向的前进方向
func (s State) Forward() mgl64.Vec3 {
	return s.Orientation().Rotate(mgl64.Vec3{0, 0, 1})
}

// ApproxEqual 判断两个状态在容差内一致
func (s State) ApproxEqual(o State, tol float64) bool {
	if s.Grounded != o.Grounded {
		return false
	}
	if !s.Position.ApproxEqualThreshold(o.Position, tol) || !s.Velocity.ApproxEqualThreshold(o.Velocity, tol) {
		return false
	}
	d := math.Abs(s.Yaw - o.Yaw)
	return d <= tol || math.Abs(d-360) <= tol
}

// YawFromQuat 从任意四元数提取绕竖直轴的偏航角（度）
func YawFromQuat(q mgl64.Quat) float64 {
	f := q.Normalize().Rotate(mgl64.Vec3{0, 0, 1})
	return normalizeYaw(mgl64.RadToDeg(math.Atan2(f[0], f[2])))
}

func normalizeYaw(yaw float64) float64 {
	yaw = math.Mod(yaw, 360)
	if yaw < 0 {
		yaw += 360
	}
	return yaw
}
