package server

import (
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"movesync/config"
	"movesync/journal"
	"movesync/protocol"
)

type fakeSender struct {
	mu     sync.Mutex
	msgs   [][]byte
	full   bool
	closed bool
}

func (f *fakeSender) Enqueue(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.msgs = append(f.msgs, b)
	return true
}

func (f *fakeSender) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// decoded 按类型筛选已发送的消息
func (f *fakeSender) decoded(t *testing.T, kind protocol.Kind) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, b := range f.msgs {
		msg, err := protocol.Decode(b)
		require.NoError(t, err)
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

type memRecorder struct {
	mu   sync.Mutex
	recs []journal.Record
	full bool
}

func (m *memRecorder) Record(r journal.Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.recs = append(m.recs, r)
	return true
}

func newTestRoom(t *testing.T) (*Room, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewRoom("test", config.Default(), zap.New(core).Sugar(), nil), logs
}

func sendBatch(t *testing.T, r *Room, id protocol.ConnID, b protocol.CommandBatch) {
	t.Helper()
	data, err := protocol.EncodeCommands(b)
	require.NoError(t, err)
	r.OnMessage(id, data)
}

func sendProposal(t *testing.T, r *Room, id protocol.ConnID, p protocol.Proposal) {
	t.Helper()
	data, err := protocol.EncodeProposal(p)
	require.NoError(t, err)
	r.OnMessage(id, data)
}

var forward = protocol.Command{Vertical: 1}

func TestJoinSendsWelcome(t *testing.T) {
	r, _ := newTestRoom(t)
	s := &fakeSender{}
	p := r.JoinPlayer(s)

	msgs := s.decoded(t, protocol.KindWelcome)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(p.ID), msgs[0].Welcome.PlayerID)
	assert.Equal(t, 20, msgs[0].Welcome.SendRate)

	_, ok := p.State()
	assert.False(t, ok, "state is created on first input")
}

func TestForwardBatchesMovePlayerForward(t *testing.T) {
	r, _ := newTestRoom(t)
	s := &fakeSender{}
	p := r.JoinPlayer(s)

	lastZ := 0.0
	for seq := uint32(1); seq <= 3; seq++ {
		sendBatch(t, r, p.ID, protocol.UniformBatch(seq, forward))
		for i := 0; i < 3; i++ {
			r.Tick()
			st, ok := p.State()
			require.True(t, ok)
			assert.GreaterOrEqual(t, st.Position.Z(), lastZ)
			lastZ = st.Position.Z()
		}
	}
	assert.Greater(t, lastZ, 0.0)
	assert.Equal(t, int64(3), r.Metrics().BatchesAccepted)

	r.Broadcast()
	snaps := s.decoded(t, protocol.KindSnapshot)
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Snapshot.Entries, 1)
	assert.InDelta(t, lastZ, float64(snaps[0].Snapshot.Entries[0].Position[2]), 1e-4)
}

func TestStaleBatchIsIgnored(t *testing.T) {
	r, _ := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})

	sendBatch(t, r, p.ID, protocol.UniformBatch(5, forward))
	sendBatch(t, r, p.ID, protocol.UniformBatch(4, protocol.Command{Jump: true}))
	sendBatch(t, r, p.ID, protocol.UniformBatch(5, protocol.Command{Jump: true}))

	assert.Equal(t, int64(1), r.Metrics().BatchesAccepted)
	assert.Equal(t, int64(2), r.Metrics().OldSeqIgnored)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, uint32(5), p.buffer.Seq())
	assert.False(t, p.buffer.Current().Jump)
}

func TestStarvationRepeatsLastCommandAndWarnsOnce(t *testing.T) {
	r, logs := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})

	b := protocol.UniformBatch(1, forward)
	b.Commands[protocol.BatchSize-1] = protocol.Command{Vertical: 1, Sprint: true}
	sendBatch(t, r, p.ID, b)

	for i := 0; i < protocol.BatchSize+3; i++ {
		r.Tick()
	}

	assert.Equal(t, int64(3), r.Metrics().Starvations)
	warns := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("ran out of commands").Len()
	assert.Equal(t, 1, warns)

	p.mu.Lock()
	assert.True(t, p.buffer.Current().Sprint)
	p.mu.Unlock()

	// 新批次结束饥饿
	sendBatch(t, r, p.ID, protocol.UniformBatch(2, forward))
	r.Tick()
	assert.Equal(t, int64(3), r.Metrics().Starvations)
}

func TestTickRecordsJournal(t *testing.T) {
	rec := &memRecorder{}
	r := NewRoom("j", config.Default(), nil, rec)
	p := r.JoinPlayer(&fakeSender{})
	sendBatch(t, r, p.ID, protocol.UniformBatch(1, forward))

	r.Tick()
	r.Tick()

	rec.mu.Lock()
	require.Len(t, rec.recs, 2)
	assert.Equal(t, uint64(1), rec.recs[0].Tick)
	assert.Equal(t, rec.recs[0].After, rec.recs[1].Before)
	assert.Equal(t, "j", rec.recs[1].Room)
	rec.full = true
	rec.mu.Unlock()

	r.Tick()
	assert.Equal(t, int64(1), r.Metrics().JournalDropped)
}

func TestBroadcastSkipsWhenNoState(t *testing.T) {
	r, _ := newTestRoom(t)
	r.Broadcast()
	assert.Zero(t, r.Metrics().SnapshotsSent)

	s := &fakeSender{}
	r.JoinPlayer(s)
	r.Broadcast()
	assert.Empty(t, s.decoded(t, protocol.KindSnapshot))
	assert.Zero(t, r.Metrics().SnapshotsSent)
}

func TestBroadcastCountsFullQueues(t *testing.T) {
	r, _ := newTestRoom(t)
	a := r.JoinPlayer(&fakeSender{})
	full := &fakeSender{full: true}
	r.JoinPlayer(full)
	sendBatch(t, r, a.ID, protocol.UniformBatch(1, forward))

	r.Broadcast()
	assert.Equal(t, int64(1), r.Metrics().SnapshotsSent)
	assert.Equal(t, int64(1), r.Metrics().ChanFullDiscarded)
}

func TestSnapshotSequenceIncreases(t *testing.T) {
	r, _ := newTestRoom(t)
	s := &fakeSender{}
	p := r.JoinPlayer(s)
	sendBatch(t, r, p.ID, protocol.UniformBatch(1, forward))

	r.Broadcast()
	r.Broadcast()
	snaps := s.decoded(t, protocol.KindSnapshot)
	require.Len(t, snaps, 2)
	assert.Less(t, snaps[0].Snapshot.Seq, snaps[1].Snapshot.Seq)
}

func TestProposalWithinLimitIsCommitted(t *testing.T) {
	r, _ := newTestRoom(t)
	s := &fakeSender{}
	p := r.JoinPlayer(s)

	spawn := config.Default().World.Spawn
	target := [3]float32{float32(spawn[0]), float32(spawn[1]), float32(spawn[2]) + 0.4}
	sendProposal(t, r, p.ID, protocol.Proposal{Seq: 1, Position: target, Rotation: [4]float32{1, 0, 0, 0}})

	st, ok := p.State()
	require.True(t, ok)
	assert.InDelta(t, 0.4, st.Position.Z(), 1e-6)
	assert.True(t, st.Grounded)
	assert.Equal(t, int64(1), r.Metrics().ProposalsAccepted)
	assert.Empty(t, s.decoded(t, protocol.KindCorrection))
}

func TestProposalTooFarIsCorrected(t *testing.T) {
	r, _ := newTestRoom(t)
	s := &fakeSender{}
	p := r.JoinPlayer(s)

	spawn := config.Default().World.Spawn
	target := [3]float32{float32(spawn[0]), float32(spawn[1]), float32(spawn[2]) + 0.6}
	sendProposal(t, r, p.ID, protocol.Proposal{Seq: 1, Position: target, Rotation: [4]float32{1, 0, 0, 0}})

	st, _ := p.State()
	assert.InDelta(t, 0.0, st.Position.Z(), 1e-9)
	assert.Equal(t, int64(1), r.Metrics().ProposalsRejected)

	corr := s.decoded(t, protocol.KindCorrection)
	require.Len(t, corr, 1)
	assert.InDelta(t, spawn[1], float64(corr[0].Correction.Position[1]), 1e-6)
}

func TestProposalIntoAnotherPlayerIsBlocked(t *testing.T) {
	r, _ := newTestRoom(t)
	a := r.JoinPlayer(&fakeSender{})
	bs := &fakeSender{}
	b := r.JoinPlayer(bs)

	// a 留在出生点；b 被放到 a 前方 1.1 处，再向 a 靠近 0.3（相距 0.8）即发生重叠
	sendBatch(t, r, a.ID, protocol.UniformBatch(1, protocol.Command{}))
	b.mu.Lock()
	r.ensureStateLocked(b)
	b.state.Position = b.state.Position.Add([3]float64{0, 0, 1.1})
	start := b.state.Position
	b.mu.Unlock()

	sendProposal(t, r, b.ID, protocol.Proposal{
		Seq:      1,
		Position: protocol.PackVec3(start.Sub([3]float64{0, 0, 0.3})),
		Rotation: [4]float32{1, 0, 0, 0},
	})

	st, _ := b.State()
	assert.Equal(t, start, st.Position)
	assert.Equal(t, int64(1), r.Metrics().ProposalsRejected)
	assert.Len(t, bs.decoded(t, protocol.KindCorrection), 1)
}

func TestMaxDeltaIsTunable(t *testing.T) {
	r, _ := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})
	r.setMaxDelta(1)

	sendProposal(t, r, p.ID, protocol.Proposal{Seq: 1, Position: [3]float32{0, 1, 0.8}, Rotation: [4]float32{1, 0, 0, 0}})
	assert.Equal(t, int64(1), r.Metrics().ProposalsAccepted)
}

func TestMalformedAndRateLimited(t *testing.T) {
	r, _ := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})

	r.OnMessage(p.ID, []byte{0xc1})
	assert.Equal(t, int64(1), r.Metrics().Malformed)

	burst := config.Default().RateLimit.Burst
	for i := 0; i < burst+5; i++ {
		sendBatch(t, r, p.ID, protocol.UniformBatch(uint32(i+1), forward))
	}
	assert.Positive(t, r.Metrics().RateLimited)
}

func TestLeaveCleansUp(t *testing.T) {
	r, _ := newTestRoom(t)
	s := &fakeSender{}
	p := r.JoinPlayer(s)
	sendBatch(t, r, p.ID, protocol.UniformBatch(9, forward))

	r.LeavePlayer(p.ID)
	r.LeavePlayer(p.ID)

	assert.Equal(t, 0, r.PlayerCount())
	assert.True(t, s.closed)
	_, ok := r.batches.Last(p.ID)
	assert.False(t, ok)

	// 断线后到达的消息与 Tick 都不应出错
	sendBatch(t, r, p.ID, protocol.UniformBatch(10, forward))
	r.Tick()
	r.Broadcast()
	assert.Zero(t, r.Metrics().SnapshotsSent)
}

func TestDroppedBySimulatedLink(t *testing.T) {
	cfg := config.Default()
	cfg.NetSim.DropProb = 0.999999
	r := NewRoom("lossy", cfg, nil, nil)
	p := r.JoinPlayer(&fakeSender{})

	sendBatch(t, r, p.ID, protocol.UniformBatch(1, forward))
	assert.Equal(t, int64(1), r.Metrics().DropsSimulated)
	assert.Zero(t, r.Metrics().BatchesAccepted)
}

func TestProposalInAirClearsGrounded(t *testing.T) {
	r, _ := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})
	sendBatch(t, r, p.ID, protocol.UniformBatch(1, protocol.Command{}))
	r.Tick()
	st, _ := p.State()
	require.True(t, st.Grounded)

	sendProposal(t, r, p.ID, protocol.Proposal{Seq: 1, Position: [3]float32{0, 1.3, 0}, Rotation: [4]float32{1, 0, 0, 0}})
	st, _ = p.State()
	assert.InDelta(t, 1.3, st.Position.Y(), 1e-6)
	assert.False(t, st.Grounded)
}

func TestStaleProposalIsDiscardedAndCounted(t *testing.T) {
	r, _ := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})

	p.mu.Lock()
	r.ensureStateLocked(p)
	validatedFrom := p.state.Position
	// 校验与提交之间 Tick 已推进了位置
	p.state.Position = validatedFrom.Add(mgl64.Vec3{0, 0, 0.16})
	moved := p.state.Position
	p.mu.Unlock()

	r.commitProposal(p, validatedFrom, protocol.Proposal{Seq: 1, Position: [3]float32{0, 1, 0.3}, Rotation: [4]float32{1, 0, 0, 0}})

	st, _ := p.State()
	assert.Equal(t, moved, st.Position)
	assert.Zero(t, r.Metrics().ProposalsAccepted)
	assert.Equal(t, int64(1), r.Metrics().ProposalsStale)
}

func TestLateMessageAfterLeaveLeavesNoSequenceState(t *testing.T) {
	r, _ := newTestRoom(t)
	p := r.JoinPlayer(&fakeSender{})
	r.LeavePlayer(p.ID)

	batch := protocol.UniformBatch(3, forward)
	r.dispatch(p.ID, protocol.Message{Kind: protocol.KindCommands, Batch: &batch})
	prop := protocol.Proposal{Seq: 3, Position: [3]float32{0, 1, 0.1}, Rotation: [4]float32{1, 0, 0, 0}}
	r.dispatch(p.ID, protocol.Message{Kind: protocol.KindProposal, Proposal: &prop})

	_, ok := r.batches.Last(p.ID)
	assert.False(t, ok)
	_, ok = r.proposals.Last(p.ID)
	assert.False(t, ok)
	assert.Zero(t, r.Metrics().BatchesAccepted)
	assert.Zero(t, r.Metrics().OldSeqIgnored)
}

func TestDelayedDeliveryAfterLeave(t *testing.T) {
	cfg := config.Default()
	cfg.NetSim = config.NetSim{DelayMinMs: 20, DelayMaxMs: 20}
	r := NewRoom("delayed", cfg, nil, nil)
	p := r.JoinPlayer(&fakeSender{})

	sendBatch(t, r, p.ID, protocol.UniformBatch(1, forward))
	r.LeavePlayer(p.ID)
	time.Sleep(100 * time.Millisecond)

	_, ok := r.batches.Last(p.ID)
	assert.False(t, ok)
	assert.Zero(t, r.Metrics().BatchesAccepted)
}
