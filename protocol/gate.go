package protocol

import "sync"

// Gate 按连接维护单调递增的序列号，过滤过期、重复、乱序的载荷。
// 服务端用于命令批次，客户端用于快照。
type Gate[T any] struct {
	mu   sync.Mutex
	last map[ConnID]uint32
	sink func(ConnID, T)
}

// NewGate 创建过滤器，sink 在接受时被调用（持锁调用，保证同一连接的投递有序）
func NewGate[T any](sink func(ConnID, T)) *Gate[T] {
	return &Gate[T]{
		last: make(map[ConnID]uint32),
		sink: sink,
	}
}

// Offer 序列号严格大于上次接受值（或首次出现）时接受并转发，否则静默丢弃
func (g *Gate[T]) Offer(conn ConnID, seq uint32, payload T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.last[conn]; ok && seq <= last {
		return false
	}
	g.last[conn] = seq
	if g.sink != nil {
		g.sink(conn, payload)
	}
	return true
}

// Last 返回连接最近接受的序列号
func (g *Gate[T]) Last(conn ConnID) (uint32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seq, ok := g.last[conn]
	return seq, ok
}

// Forget 断线时清除连接的序列状态
func (g *Gate[T]) Forget(conn ConnID) {
	g.mu.Lock()
	delete(g.last, conn)
	g.mu.Unlock()
}
