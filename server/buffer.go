package server

import "movesync/protocol"

// CommandBuffer 单连接的命令缓冲：深度为一，只保留最新批次与消费游标。
// 非并发安全，由所属 Player 的锁保护。
type CommandBuffer struct {
	batch   protocol.CommandBatch
	cursor  int
	loaded  bool
	fresh   bool // 新批次的第一条命令尚未被消费
	starved bool
}

// Replace 用新批次整体替换，游标归零；旧批次未消费的部分直接丢弃
func (b *CommandBuffer) Replace(batch protocol.CommandBatch) {
	b.batch = batch
	b.cursor = 0
	b.loaded = true
	b.fresh = true
	b.starved = false
}

// Loaded 是否已收到过批次
func (b *CommandBuffer) Loaded() bool { return b.loaded }

// Cursor 当前游标
func (b *CommandBuffer) Cursor() int { return b.cursor }

// Seq 当前批次的序列号
func (b *CommandBuffer) Seq() uint32 { return b.batch.Seq }

// Advance 推进游标。新批次的第一次推进停在 0；
// 到达末尾后钳制在 BatchSize-1 并报告饥饿，first 仅在进入饥饿的那一次为 true。
func (b *CommandBuffer) Advance() (starved, first bool) {
	if !b.loaded {
		return false, false
	}
	if b.fresh {
		b.fresh = false
		return false, false
	}
	if b.cursor < protocol.BatchSize-1 {
		b.cursor++
		return false, false
	}
	first = !b.starved
	b.starved = true
	return true, first
}

// Current 游标处的命令；饥饿时即最后一条命令
func (b *CommandBuffer) Current() protocol.Command {
	return b.batch.Commands[b.cursor]
}
