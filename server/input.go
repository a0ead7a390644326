package server

import (
	"movesync/protocol"
)

// OnMessage 处理一条入站二进制帧：限流 → 解码 → 链路模拟 → 分发。
// 读协程调用，不阻塞。
func (r *Room) OnMessage(id protocol.ConnID, payload []byte) {
	p, ok := r.Player(id)
	if !ok {
		return
	}
	if p.limiter != nil && !p.limiter.Allow() {
		r.metrics.IncRateLimited()
		return
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		r.metrics.IncMalformed()
		r.log.Debugf("malformed message from player %d: %v", id, err)
		return
	}

	if !r.netsim.Deliver(func() { r.dispatch(id, msg) }) {
		r.metrics.IncDropsSimulated()
	}
}

// dispatch 按消息类型送入对应的序列过滤器
func (r *Room) dispatch(id protocol.ConnID, msg protocol.Message) {
	var fresh bool
	switch msg.Kind {
	case protocol.KindCommands:
		fresh = r.batches.Offer(id, msg.Batch.Seq, *msg.Batch)
	case protocol.KindProposal:
		fresh = r.proposals.Offer(id, msg.Proposal.Seq, *msg.Proposal)
	default:
		r.metrics.IncMalformed()
		r.log.Debugf("unexpected %s from player %d", msg.Kind, id)
		return
	}

	// 延迟投递期间连接可能已断开：LeavePlayer 先移出玩家再清理过滤器，
	// 这里在 Offer 之后复查，清掉 Offer 重新写入的序列状态
	if _, ok := r.Player(id); !ok {
		r.batches.Forget(id)
		r.proposals.Forget(id)
		return
	}
	if !fresh {
		r.metrics.IncOldSeqIgnored()
	}
}
