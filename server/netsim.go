package server

import (
	"math/rand"
	"sync"
	"time"

	"movesync/config"
)

// NetSim 入站链路模拟：按概率丢弃，按随机延迟投递（延迟不同即产生乱序）
type NetSim struct {
	mu  sync.Mutex
	cfg config.NetSim
}

func NewNetSim(cfg config.NetSim) *NetSim {
	return &NetSim{cfg: cfg}
}

// Config 当前参数
func (n *NetSim) Config() config.NetSim {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg
}

// Set 热更新参数（调用方负责校验）
func (n *NetSim) Set(cfg config.NetSim) {
	n.mu.Lock()
	n.cfg = cfg
	n.mu.Unlock()
}

// Deliver 投递一条入站消息；被模拟丢弃时返回 false。
// 无延迟时同步执行 fn，否则在定时器协程中执行。
func (n *NetSim) Deliver(fn func()) bool {
	cfg := n.Config()
	if cfg.DropProb > 0 && rand.Float64() < cfg.DropProb {
		return false
	}
	delay := cfg.DelayMinMs
	if span := cfg.DelayMaxMs - cfg.DelayMinMs; span > 0 {
		delay += rand.Intn(span + 1)
	}
	if delay <= 0 {
		fn()
		return true
	}
	time.AfterFunc(time.Duration(delay)*time.Millisecond, fn)
	return true
}
