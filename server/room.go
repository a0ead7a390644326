package server

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"movesync/config"
	"movesync/journal"
	"movesync/movement"
	"movesync/protocol"
)

// Recorder 仿真步记录器（可选），不得阻塞
type Recorder interface {
	Record(journal.Record) bool
}

// Room 房间世界：权威状态维护在内存，Tick 与广播各自按固定频率推进
type Room struct {
	ID string

	cfg      config.Server
	log      *zap.SugaredLogger
	metrics  *RoomMetrics
	recorder Recorder
	world    *movement.BoxWorld
	spawn    mgl64.Vec3
	netsim   *NetSim

	batches   *protocol.Gate[protocol.CommandBatch]
	proposals *protocol.Gate[protocol.Proposal]

	mu      sync.RWMutex
	players map[protocol.ConnID]*Player

	nextID   atomic.Uint64
	tickSeq  atomic.Uint64
	snapSeq  atomic.Uint32
	maxDelta atomic.Uint64 // float64 位模式，可由管理接口热更新

	runOnce sync.Once
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, cfg config.Server, log *zap.SugaredLogger, rec Recorder) *Room {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Room{
		ID:       id,
		cfg:      cfg,
		log:      log.With("room", id),
		metrics:  &RoomMetrics{},
		recorder: rec,
		world:    &movement.BoxWorld{GroundY: cfg.World.GroundY, Boxes: cfg.World.Boxes},
		spawn:    mgl64.Vec3(cfg.World.Spawn),
		netsim:   NewNetSim(cfg.NetSim),
		players:  make(map[protocol.ConnID]*Player),
	}
	r.setMaxDelta(cfg.MaxDeltaPerTick)
	r.batches = protocol.NewGate(r.acceptBatch)
	r.proposals = protocol.NewGate(r.acceptProposal)
	return r
}

// Metrics 房间指标
func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// TickSeq 已执行的 Tick 数
func (r *Room) TickSeq() uint64 { return r.tickSeq.Load() }

// MaxDelta 单次提议允许的最大位移
func (r *Room) MaxDelta() float64 {
	return math.Float64frombits(r.maxDelta.Load())
}

func (r *Room) setMaxDelta(v float64) {
	r.maxDelta.Store(math.Float64bits(v))
}

// NetSim 入站链路模拟器
func (r *Room) NetSim() *NetSim { return r.netsim }

// JoinPlayer 为新连接分配玩家 ID 并发送欢迎消息；权威状态等首条输入再创建
func (r *Room) JoinPlayer(conn Sender) *Player {
	id := protocol.ConnID(r.nextID.Add(1))
	p := &Player{
		ID:      id,
		Conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(r.cfg.RateLimit.MessagesPerSecond), r.cfg.RateLimit.Burst),
	}
	r.mu.Lock()
	r.players[id] = p
	r.mu.Unlock()

	if data, err := protocol.EncodeWelcome(protocol.Welcome{
		PlayerID:      uint64(id),
		SendRate:      int(r.cfg.SendRate),
		BroadcastRate: int(r.cfg.BroadcastRate),
	}); err == nil && conn != nil {
		conn.Enqueue(data)
	}
	r.log.Infof("player %d joined", id)
	return p
}

// LeavePlayer 将玩家移出房间；重复调用或未知 ID 视为已离开
func (r *Room) LeavePlayer(id protocol.ConnID) {
	r.mu.Lock()
	p, ok := r.players[id]
	delete(r.players, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	p.gone = true
	p.mu.Unlock()

	r.batches.Forget(id)
	r.proposals.Forget(id)
	if p.Conn != nil {
		p.Conn.Close()
	}
	r.log.Infof("player %d left", id)
}

// Player 按 ID 查找在线玩家
func (r *Room) Player(id protocol.ConnID) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// PlayerCount 在线人数
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// snapshotPlayers 复制当前玩家列表（按 ID 排序），之后逐个加锁处理
func (r *Room) snapshotPlayers() []*Player {
	r.mu.RLock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ensureStateLocked 首次输入时在出生点创建权威状态，调用方持有 p.mu
func (r *Room) ensureStateLocked(p *Player) {
	if p.hasState {
		return
	}
	p.state = movement.Spawn(r.spawn, 0)
	p.hasState = true
}

// acceptBatch 序列过滤通过后的批次：整体替换缓冲
func (r *Room) acceptBatch(id protocol.ConnID, b protocol.CommandBatch) {
	p, ok := r.Player(id)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return
	}
	r.ensureStateLocked(p)
	p.buffer.Replace(b)
	r.metrics.IncAccepted()
}

// Tick 推进一次：每个玩家推进游标、取当前命令、执行一次仿真
func (r *Room) Tick() {
	start := time.Now()
	tick := r.tickSeq.Add(1)
	dt := r.cfg.ConsumeInterval().Seconds()
	for _, p := range r.snapshotPlayers() {
		r.stepPlayer(p, tick, dt)
	}
	r.metrics.AddTick(time.Since(start).Nanoseconds())
}

func (r *Room) stepPlayer(p *Player, tick uint64, dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone || !p.buffer.Loaded() {
		return
	}

	starved, first := p.buffer.Advance()
	if starved {
		r.metrics.IncStarvation()
		if first {
			// 可能需要降低消费速率或提高客户端发送频率
			r.log.Warnf("ran out of commands for player %d (batch seq=%d); repeating last command", p.ID, p.buffer.Seq())
		}
	}

	cmd := p.buffer.Current()
	before := p.state
	p.state = movement.Step(p.state, cmd, dt, r.world, r.cfg.Movement)

	if r.recorder != nil && !r.recorder.Record(journal.Record{
		Tick:    tick,
		Room:    r.ID,
		Player:  uint64(p.ID),
		DT:      dt,
		Starved: starved,
		Command: cmd,
		Before:  before,
		After:   p.state,
	}) {
		r.metrics.IncJournalDropped()
	}
}

// BuildSnapshot 收集所有已有权威状态的玩家
func (r *Room) BuildSnapshot() protocol.Snapshot {
	players := r.snapshotPlayers()
	entries := make([]protocol.SnapshotEntry, 0, len(players))
	for _, p := range players {
		p.mu.Lock()
		if !p.gone && p.hasState {
			entries = append(entries, p.entry())
		}
		p.mu.Unlock()
	}
	return protocol.Snapshot{Entries: entries}
}

// Broadcast 将当前世界状态广播给所有连接；没有玩家时不发送。
// 不确认、不重传，丢失的快照由下一份覆盖。
func (r *Room) Broadcast() {
	snap := r.BuildSnapshot()
	if len(snap.Entries) == 0 {
		return
	}
	snap.Seq = r.snapSeq.Add(1)
	data, err := protocol.EncodeSnapshot(snap)
	if err != nil {
		r.log.Errorf("encode snapshot: %v", err)
		return
	}
	for _, p := range r.snapshotPlayers() {
		if p.Conn != nil && !p.Conn.Enqueue(data) {
			r.metrics.IncChanFullDiscarded()
		}
	}
	r.metrics.AddSnapshot(len(data))
}

// Overlap 实现 movement.OverlapQuery：静态世界 + 所有玩家当前包围盒（含提议者自身）
func (r *Room) Overlap(center, half mgl64.Vec3) int {
	hits := r.world.Overlap(center, half)
	body := movement.BoxAround(center, half)
	for _, p := range r.snapshotPlayers() {
		p.mu.Lock()
		if !p.gone && p.hasState && body.Overlaps(movement.BoxAround(p.state.Position, movement.DefaultHalfExtents)) {
			hits++
		}
		p.mu.Unlock()
	}
	return hits
}

// acceptProposal 反作弊路径：校验客户端直接提交的位置，拒绝时定向下发纠正
func (r *Room) acceptProposal(id protocol.ConnID, prop protocol.Proposal) {
	p, ok := r.Player(id)
	if !ok {
		return
	}
	p.mu.Lock()
	if p.gone {
		p.mu.Unlock()
		return
	}
	r.ensureStateLocked(p)
	current := p.state.Position
	p.mu.Unlock()

	// 重叠查询会对每个玩家加锁，因此校验期间不持有 p.mu
	proposed := protocol.UnpackVec3(prop.Position)
	v := movement.Validator{MaxDelta: r.MaxDelta(), Half: movement.DefaultHalfExtents, Query: r}
	d := v.Validate(current, proposed)

	if !d.Accepted() {
		r.metrics.IncProposalRejected()
		r.log.Infof("rejected move from player %d: %s (dist=%.3f hits=%d)", id, d.Verdict, d.Distance, d.Hits)
		r.sendCorrection(p, d.Correction)
		return
	}
	if d.Verdict == movement.VerdictUnchanged {
		r.metrics.IncProposalAccepted()
		return
	}
	r.commitProposal(p, current, prop)
}

// commitProposal 提交已通过校验的提议；校验期间若被 Tick 改写（位置不再是 from），本次提议作废
func (r *Room) commitProposal(p *Player, from mgl64.Vec3, prop protocol.Proposal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone || p.state.Position != from {
		r.metrics.IncProposalStale()
		return
	}
	proposed := protocol.UnpackVec3(prop.Position)
	p.state.Position = proposed
	p.state.Velocity = protocol.UnpackVec3(prop.Velocity)
	p.state.Yaw = movement.YawFromQuat(protocol.UnpackQuat(prop.Rotation))
	p.state.Grounded = r.world.Supported(proposed, movement.DefaultHalfExtents)
	r.metrics.IncProposalAccepted()
}

func (r *Room) sendCorrection(p *Player, pos mgl64.Vec3) {
	if p.Conn == nil {
		return
	}
	data, err := protocol.EncodeCorrection(protocol.Correction{Position: protocol.PackVec3(pos)})
	if err != nil {
		r.log.Errorf("encode correction: %v", err)
		return
	}
	if !p.Conn.Enqueue(data) {
		r.metrics.IncChanFullDiscarded()
	}
}
