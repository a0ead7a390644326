package client

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"movesync/movement"
	"movesync/protocol"
)

// Predictor 本地玩家的预测影子状态，与服务端使用同一个 movement.Step
type Predictor struct {
	SnapThreshold float64

	mu          sync.Mutex
	state       movement.State
	world       movement.World
	params      movement.Params
	dt          float64
	self        uint64
	known       bool
	corrections uint64
}

// NewPredictor dt 为每条采样命令对应的仿真步长（秒）
func NewPredictor(spawn movement.State, world movement.World, params movement.Params, dt float64) *Predictor {
	return &Predictor{
		SnapThreshold: DefaultSnapThreshold,
		state:         spawn,
		world:         world,
		params:        params,
		dt:            dt,
	}
}

// SetSelf 记录服务端分配的自身玩家 ID
func (p *Predictor) SetSelf(id uint64) {
	p.mu.Lock()
	p.self, p.known = id, true
	p.mu.Unlock()
}

// Apply 用一条采样命令推进预测状态
func (p *Predictor) Apply(cmd protocol.Command) {
	p.mu.Lock()
	p.state = movement.Step(p.state, cmd, p.dt, p.world, p.params)
	p.mu.Unlock()
}

// Reconcile 用快照中自身的权威条目校正预测；偏差超过阈值时回到权威位置
func (p *Predictor) Reconcile(s protocol.Snapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.known {
		return false
	}
	for _, e := range s.Entries {
		if e.PlayerID != p.self {
			continue
		}
		auth := protocol.UnpackVec3(e.Position)
		if p.state.Position.Sub(auth).Len() <= p.SnapThreshold {
			return false
		}
		p.state.Position = auth
		p.state.Yaw = movement.YawFromQuat(protocol.UnpackQuat(e.Rotation))
		p.corrections++
		return true
	}
	return false
}

// Correct 处理服务端定向纠正：无条件回到给定位置
func (p *Predictor) Correct(pos mgl64.Vec3) {
	p.mu.Lock()
	p.state.Position = pos
	p.state.Velocity = mgl64.Vec3{}
	p.corrections++
	p.mu.Unlock()
}

// State 当前预测状态
func (p *Predictor) State() movement.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Corrections 累计被校正次数
func (p *Predictor) Corrections() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.corrections
}
