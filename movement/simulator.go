package movement

import (
	"github.com/go-gl/mathgl/mgl64"

	"movesync/protocol"
)

// Params 移动参数
type Params struct {
	TurnSpeed        float64 `yaml:"turn_speed"`        // 每次仿真转向角度（度/单位轴）
	MoveSpeed        float64 `yaml:"move_speed"`        // 基础移动速度
	SprintMultiplier float64 `yaml:"sprint_multiplier"` // 冲刺倍率
	JumpSpeed        float64 `yaml:"jump_speed"`
	Gravity          float64 `yaml:"gravity"`
}

// DefaultParams 默认移动参数
func DefaultParams() Params {
	return Params{
		TurnSpeed:        3,
		MoveSpeed:        8,
		SprintMultiplier: 10,
		JumpSpeed:        8,
		Gravity:          20,
	}
}

// Step 执行一次确定性移动仿真：(状态, 命令, 固定步长, 碰撞世界) -> 新状态。
// 不读取任何隐藏状态，相同输入必然得到相同输出。
func Step(s State, cmd protocol.Command, dt float64, world World, p Params) State {
	h := float64(cmd.Horizontal)
	v := float64(cmd.Vertical)

	s.Yaw = normalizeYaw(s.Yaw + h*p.TurnSpeed)

	// 只有着地时才接受操控，空中保持原有水平速度
	if s.Grounded {
		var local mgl64.Vec3
		if cmd.Secondary {
			if cmd.Primary {
				v = 1 // 双键同按：强制前进
			}
			local = mgl64.Vec3{h, 0, v} // 横移
		} else {
			local = mgl64.Vec3{0, 0, v}
		}

		move := s.Orientation().Rotate(local).Mul(p.MoveSpeed)
		if cmd.Sprint {
			move = move.Mul(p.SprintMultiplier)
		}
		if cmd.Jump {
			move[1] = p.JumpSpeed
		}
		s.Velocity = move
	}

	s.Velocity[1] -= p.Gravity * dt

	if world == nil {
		world = EmptyWorld
	}
	s.Position, s.Grounded = world.Sweep(s.Position, s.Velocity.Mul(dt), DefaultHalfExtents)
	return s
}
