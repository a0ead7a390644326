// Package client 客户端侧：输入采样打包、自身预测、远端玩家快照调和
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"movesync/fixedrate"
	"movesync/protocol"
)

// InputSource 提供当前输入状态
type InputSource interface {
	Poll() protocol.Command
}

// InputFunc 函数适配为 InputSource
type InputFunc func() protocol.Command

func (f InputFunc) Poll() protocol.Command { return f() }

// BatchSender 发送封装好的批次（由传输层实现）
type BatchSender interface {
	SendBatch(protocol.CommandBatch) error
}

// Sampler 按固定子 Tick 采样输入，凑满 BatchSize 条后加序列号发送。
// 空输入批次同样发送（始终发送策略）。只能在单个 goroutine 中驱动。
type Sampler struct {
	source  InputSource
	sender  BatchSender
	observe func(protocol.Command)
	log     *zap.SugaredLogger

	seq    uint32
	batch  protocol.CommandBatch
	cursor int
}

// NewSampler 创建采样器
func NewSampler(source InputSource, sender BatchSender, log *zap.SugaredLogger) *Sampler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sampler{source: source, sender: sender, log: log}
}

// OnSample 每条采样命令的回调（用于本地预测）
func (s *Sampler) OnSample(fn func(protocol.Command)) {
	s.observe = fn
}

// Seq 最近一次发送的序列号（0 表示尚未发送）
func (s *Sampler) Seq() uint32 { return s.seq }

// Sample 记录一条命令；批次满时封装发送并返回发送错误
func (s *Sampler) Sample() error {
	cmd := s.source.Poll()
	s.batch.Commands[s.cursor] = cmd
	s.cursor++
	if s.observe != nil {
		s.observe(cmd)
	}
	if s.cursor < protocol.BatchSize {
		return nil
	}

	s.seq++
	s.batch.Seq = s.seq
	sealed := s.batch
	s.batch = protocol.CommandBatch{}
	s.cursor = 0
	return s.sender.SendBatch(sealed)
}

// Run 以 interval 为周期采样直到 ctx 取消；发送失败只记录日志
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	return fixedrate.Loop{Interval: interval, Fn: func(time.Time) {
		if err := s.Sample(); err != nil {
			s.log.Warnf("send batch seq=%d: %v", s.seq, err)
		}
	}}.Run(ctx)
}
