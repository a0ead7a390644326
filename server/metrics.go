package server

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	TotalTickNs       int64 // Tick 累计耗时（纳秒）
	BatchesAccepted   int64 // 通过序列过滤的命令批次
	OldSeqIgnored     int64 // 因旧序列被忽略的批次/提议
	Malformed         int64 // 解码失败的入站帧
	RateLimited       int64 // 因单连接限流被丢弃的入站帧
	DropsSimulated    int64 // 因模拟丢包被丢弃的入站帧
	Starvations       int64 // 命令耗尽、重复最后一条命令的 Tick 数
	ProposalsAccepted int64 // 反作弊通过的位置提议
	ProposalsRejected int64 // 反作弊拒绝的位置提议
	ProposalsStale    int64 // 校验通过但提交前已被 Tick 改写而作废的提议
	SnapshotsSent     int64 // 广播的快照数
	SnapshotBytes     int64 // 快照编码后累计字节数
	ChanFullDiscarded int64 // 因发送队列满被丢弃的出站消息
	JournalDropped    int64 // 因日志队列满丢弃的仿真记录
}

func (m *RoomMetrics) IncAccepted()          { atomic.AddInt64(&m.BatchesAccepted, 1) }
func (m *RoomMetrics) IncOldSeqIgnored()     { atomic.AddInt64(&m.OldSeqIgnored, 1) }
func (m *RoomMetrics) IncMalformed()         { atomic.AddInt64(&m.Malformed, 1) }
func (m *RoomMetrics) IncRateLimited()       { atomic.AddInt64(&m.RateLimited, 1) }
func (m *RoomMetrics) IncDropsSimulated()    { atomic.AddInt64(&m.DropsSimulated, 1) }
func (m *RoomMetrics) IncStarvation()        { atomic.AddInt64(&m.Starvations, 1) }
func (m *RoomMetrics) IncProposalAccepted()  { atomic.AddInt64(&m.ProposalsAccepted, 1) }
func (m *RoomMetrics) IncProposalRejected()  { atomic.AddInt64(&m.ProposalsRejected, 1) }
func (m *RoomMetrics) IncProposalStale()     { atomic.AddInt64(&m.ProposalsStale, 1) }
func (m *RoomMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }
func (m *RoomMetrics) IncJournalDropped()    { atomic.AddInt64(&m.JournalDropped, 1) }
func (m *RoomMetrics) AddSnapshot(bytes int) {
	atomic.AddInt64(&m.SnapshotsSent, 1)
	atomic.AddInt64(&m.SnapshotBytes, int64(bytes))
}
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	snapBytes := atomic.LoadInt64(&m.SnapshotBytes)
	return map[string]any{
		"tick_count":          tick,
		"avg_tick_ms":         avgMs,
		"batches_accepted":    atomic.LoadInt64(&m.BatchesAccepted),
		"old_seq_ignored":     atomic.LoadInt64(&m.OldSeqIgnored),
		"malformed":           atomic.LoadInt64(&m.Malformed),
		"rate_limited":        atomic.LoadInt64(&m.RateLimited),
		"drops_simulated":     atomic.LoadInt64(&m.DropsSimulated),
		"starvations":         atomic.LoadInt64(&m.Starvations),
		"proposals_accepted":  atomic.LoadInt64(&m.ProposalsAccepted),
		"proposals_rejected":  atomic.LoadInt64(&m.ProposalsRejected),
		"proposals_stale":     atomic.LoadInt64(&m.ProposalsStale),
		"snapshots_sent":      atomic.LoadInt64(&m.SnapshotsSent),
		"snapshot_bytes":      snapBytes,
		"snapshot_bytes_h":    humanize.Bytes(uint64(snapBytes)),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"journal_dropped":     atomic.LoadInt64(&m.JournalDropped),
	}
}
