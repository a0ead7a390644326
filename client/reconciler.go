package client

import (
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"movesync/protocol"
)

const (
	// DefaultSnapThreshold 超过该距离直接瞬移到目标
	DefaultSnapThreshold = 2.0
	// DefaultLerpRate 每秒逼近速率（近似指数逼近，非严格时间常数）
	DefaultLerpRate = 10.0
)

// 客户端只有一个上游（服务端），快照序列按该键过滤
const serverConn protocol.ConnID = 0

// Replica 远端玩家在本地的表现对象（只读副本）
type Replica struct {
	ID       uint64
	Position mgl64.Vec3
	Rotation mgl64.Quat

	targetPos mgl64.Vec3
	targetRot mgl64.Quat
}

// Target 最近一次快照给出的权威位置与朝向
func (r Replica) Target() (mgl64.Vec3, mgl64.Quat) {
	return r.targetPos, r.targetRot
}

// Reconciler 消费权威快照，维护副本集合并逐帧平滑
type Reconciler struct {
	SnapThreshold float64
	LerpRate      float64

	mu       sync.Mutex
	gate     *protocol.Gate[protocol.Snapshot]
	replicas map[uint64]*Replica
	log      *zap.SugaredLogger
}

// NewReconciler 使用默认阈值创建
func NewReconciler(log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Reconciler{
		SnapThreshold: DefaultSnapThreshold,
		LerpRate:      DefaultLerpRate,
		replicas:      make(map[uint64]*Replica),
		log:           log,
	}
	r.gate = protocol.NewGate(func(_ protocol.ConnID, s protocol.Snapshot) { r.apply(s) })
	return r
}

// Apply 提交一份快照；过期或重复快照返回 false 且不产生任何影响
func (r *Reconciler) Apply(s protocol.Snapshot) bool {
	return r.gate.Offer(serverConn, s.Seq, s)
}

func (r *Reconciler) apply(s protocol.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[uint64]struct{}, len(s.Entries))
	for _, e := range s.Entries {
		present[e.PlayerID] = struct{}{}
		pos := protocol.UnpackVec3(e.Position)
		rot := protocol.UnpackQuat(e.Rotation).Normalize()
		rep, ok := r.replicas[e.PlayerID]
		if !ok {
			rep = &Replica{ID: e.PlayerID, Position: pos, Rotation: rot}
			r.replicas[e.PlayerID] = rep
			r.log.Debugf("replica %d created at %v", e.PlayerID, pos)
		}
		rep.targetPos = pos
		rep.targetRot = rot
	}
	for id := range r.replicas {
		if _, ok := present[id]; !ok {
			delete(r.replicas, id)
			r.log.Debugf("replica %d removed", id)
		}
	}
}

// Update 按帧推进所有副本：远则瞬移，近则逼近；朝向始终走最短弧球面插值
func (r *Reconciler) Update(dt float64) {
	t := math.Min(r.LerpRate*dt, 1)
	if t < 0 {
		t = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.replicas {
		if rep.Position.Sub(rep.targetPos).Len() > r.SnapThreshold {
			rep.Position = rep.targetPos
		} else {
			rep.Position = rep.Position.Add(rep.targetPos.Sub(rep.Position).Mul(t))
		}
		rep.Rotation = slerpShortest(rep.Rotation, rep.targetRot, t)
	}
}

// Replica 返回指定副本的拷贝
func (r *Reconciler) Replica(id uint64) (Replica, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.replicas[id]
	if !ok {
		return Replica{}, false
	}
	return *rep, true
}

// Replicas 按 ID 排序返回全部副本拷贝
func (r *Reconciler) Replicas() []Replica {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Replica, 0, len(r.replicas))
	for _, rep := range r.replicas {
		out = append(out, *rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// slerpShortest 反号保证沿最短弧插值（q 与 -q 表示同一旋转）
func slerpShortest(from, to mgl64.Quat, t float64) mgl64.Quat {
	if from.Dot(to) < 0 {
		to = to.Scale(-1)
	}
	return mgl64.QuatSlerp(from, to, t)
}
