package server

import (
	"sync"

	"golang.org/x/time/rate"

	"movesync/movement"
	"movesync/protocol"
)

// Player 房间内单个连接的条目：命令缓冲 + 权威状态，均由 mu 保护。
// 权威状态只由服务端 Tick（或反作弊通过的提议）写入。
type Player struct {
	ID   protocol.ConnID
	Conn Sender // 网络连接的发送端（写协程）

	limiter *rate.Limiter

	mu       sync.Mutex
	buffer   CommandBuffer
	state    movement.State
	hasState bool // 首条命令或提议到达时才创建权威状态
	gone     bool // 已断线：正在进行的 Tick 拿到指针后据此跳过
}

// Sender 出站消息队列（非阻塞）
type Sender interface {
	Enqueue(b []byte) bool
	Close()
}

// State 返回权威状态副本
func (p *Player) State() (movement.State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.hasState
}

// entry 生成快照条目，调用方持有 p.mu
func (p *Player) entry() protocol.SnapshotEntry {
	return protocol.SnapshotEntry{
		PlayerID: uint64(p.ID),
		Position: protocol.PackVec3(p.state.Position),
		Rotation: protocol.PackQuat(p.state.Orientation()),
	}
}
