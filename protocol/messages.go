package protocol

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind 消息类型（信封字段 t）
type Kind uint8

const (
	KindWelcome Kind = iota + 1
	KindCommands
	KindSnapshot
	KindCorrection
	KindProposal
)

func (k Kind) String() string {
	switch k {
	case KindWelcome:
		return "welcome"
	case KindCommands:
		return "commands"
	case KindSnapshot:
		return "snapshot"
	case KindCorrection:
		return "correction"
	case KindProposal:
		return "proposal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Welcome 服务端在连接建立后告知客户端其玩家 ID 与节奏参数
type Welcome struct {
	PlayerID      uint64 `msgpack:"id"`
	SendRate      int    `msgpack:"send_rate"`
	BroadcastRate int    `msgpack:"broadcast_rate"`
}

// SnapshotEntry 快照中单个玩家的权威位置与朝向
type SnapshotEntry struct {
	PlayerID uint64
	Position [3]float32
	Rotation [4]float32 // w, x, y, z
}

// Snapshot 某一广播时刻所有在线玩家的完整权威视图
type Snapshot struct {
	Seq     uint32
	Entries []SnapshotEntry
}

// Correction 反作弊拒绝后定向发送给单个连接的纠正位置
type Correction struct {
	Position [3]float32
}

// Proposal 客户端直接提交的位置/速度/朝向（反作弊校验路径）
type Proposal struct {
	Seq      uint32
	Position [3]float32
	Velocity [3]float32
	Rotation [4]float32
}

// Message 解码结果，Kind 决定哪个载荷字段有效
type Message struct {
	Kind       Kind
	Welcome    *Welcome
	Batch      *CommandBatch
	Snapshot   *Snapshot
	Correction *Correction
	Proposal   *Proposal
}

type envelope struct {
	Kind Kind               `msgpack:"t"`
	Body msgpack.RawMessage `msgpack:"b"`
}

type wireCommand struct {
	Primary    bool  `msgpack:"p"`
	Secondary  bool  `msgpack:"s"`
	Jump       bool  `msgpack:"j"`
	Sprint     bool  `msgpack:"r"`
	Horizontal int64 `msgpack:"h"`
	Vertical   int64 `msgpack:"v"`
}

// 线上整数一律按 64 位解码，先做范围检查再收窄
type wireBatch struct {
	Seq  uint64        `msgpack:"seq"`
	Cmds []wireCommand `msgpack:"cmds"`
}

type wireEntry struct {
	PlayerID uint64    `msgpack:"id"`
	Position []float32 `msgpack:"pos"`
	Rotation []float32 `msgpack:"rot"`
}

type wireSnapshot struct {
	Seq     uint64      `msgpack:"seq"`
	Count   int64       `msgpack:"count"`
	Entries []wireEntry `msgpack:"entries"`
}

type wireCorrection struct {
	Position []float32 `msgpack:"pos"`
}

type wireProposal struct {
	Seq      uint64    `msgpack:"seq"`
	Position []float32 `msgpack:"pos"`
	Velocity []float32 `msgpack:"vel"`
	Rotation []float32 `msgpack:"rot"`
}

func encode(kind Kind, body any) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", kind, err)
	}
	return msgpack.Marshal(&envelope{Kind: kind, Body: raw})
}

// EncodeWelcome 编码欢迎消息
func EncodeWelcome(w Welcome) ([]byte, error) {
	return encode(KindWelcome, &w)
}

// EncodeCommands 编码命令批次
func EncodeCommands(b CommandBatch) ([]byte, error) {
	wb := wireBatch{Seq: uint64(b.Seq), Cmds: make([]wireCommand, BatchSize)}
	for i, c := range b.Commands {
		wb.Cmds[i] = wireCommand{
			Primary:    c.Primary,
			Secondary:  c.Secondary,
			Jump:       c.Jump,
			Sprint:     c.Sprint,
			Horizontal: int64(c.Horizontal),
			Vertical:   int64(c.Vertical),
		}
	}
	return encode(KindCommands, &wb)
}

// EncodeSnapshot 编码快照，count 与条目数一致
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	ws := wireSnapshot{Seq: uint64(s.Seq), Count: int64(len(s.Entries)), Entries: make([]wireEntry, len(s.Entries))}
	for i, e := range s.Entries {
		ws.Entries[i] = wireEntry{PlayerID: e.PlayerID, Position: s.Entries[i].Position[:], Rotation: s.Entries[i].Rotation[:]}
	}
	return encode(KindSnapshot, &ws)
}

// EncodeCorrection 编码纠正消息
func EncodeCorrection(c Correction) ([]byte, error) {
	return encode(KindCorrection, &wireCorrection{Position: c.Position[:]})
}

// EncodeProposal 编码位置提议
func EncodeProposal(p Proposal) ([]byte, error) {
	return encode(KindProposal, &wireProposal{
		Seq:      uint64(p.Seq),
		Position: p.Position[:],
		Velocity: p.Velocity[:],
		Rotation: p.Rotation[:],
	})
}

// Decode 解码并校验一帧消息；任何结构问题都在进入序列过滤之前被拒绝
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	msg := Message{Kind: env.Kind}
	switch env.Kind {
	case KindWelcome:
		var w Welcome
		if err := msgpack.Unmarshal(env.Body, &w); err != nil {
			return Message{}, fmt.Errorf("%w: welcome: %v", ErrMalformed, err)
		}
		msg.Welcome = &w
	case KindCommands:
		b, err := decodeBatch(env.Body)
		if err != nil {
			return Message{}, err
		}
		msg.Batch = &b
	case KindSnapshot:
		s, err := decodeSnapshot(env.Body)
		if err != nil {
			return Message{}, err
		}
		msg.Snapshot = &s
	case KindCorrection:
		var wc wireCorrection
		if err := msgpack.Unmarshal(env.Body, &wc); err != nil {
			return Message{}, fmt.Errorf("%w: correction: %v", ErrMalformed, err)
		}
		pos, err := floats3(wc.Position)
		if err != nil {
			return Message{}, fmt.Errorf("correction position: %w", err)
		}
		msg.Correction = &Correction{Position: pos}
	case KindProposal:
		p, err := decodeProposal(env.Body)
		if err != nil {
			return Message{}, err
		}
		msg.Proposal = &p
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(env.Kind))
	}
	return msg, nil
}

func decodeBatch(body []byte) (CommandBatch, error) {
	var wb wireBatch
	if err := msgpack.Unmarshal(body, &wb); err != nil {
		return CommandBatch{}, fmt.Errorf("%w: commands: %v", ErrMalformed, err)
	}
	if len(wb.Cmds) != BatchSize {
		return CommandBatch{}, fmt.Errorf("%w: batch has %d commands, want %d", ErrMalformed, len(wb.Cmds), BatchSize)
	}
	seq, err := seq32(wb.Seq)
	if err != nil {
		return CommandBatch{}, fmt.Errorf("commands: %w", err)
	}
	b := CommandBatch{Seq: seq}
	for i, c := range wb.Cmds {
		h, err := axis(c.Horizontal)
		if err != nil {
			return CommandBatch{}, fmt.Errorf("command %d horizontal: %w", i, err)
		}
		v, err := axis(c.Vertical)
		if err != nil {
			return CommandBatch{}, fmt.Errorf("command %d vertical: %w", i, err)
		}
		b.Commands[i] = Command{
			Primary:    c.Primary,
			Secondary:  c.Secondary,
			Jump:       c.Jump,
			Sprint:     c.Sprint,
			Horizontal: h,
			Vertical:   v,
		}
	}
	if err := b.Validate(); err != nil {
		return CommandBatch{}, err
	}
	return b, nil
}

func decodeSnapshot(body []byte) (Snapshot, error) {
	var ws wireSnapshot
	if err := msgpack.Unmarshal(body, &ws); err != nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot: %v", ErrMalformed, err)
	}
	if ws.Count < 0 || ws.Count != int64(len(ws.Entries)) {
		return Snapshot{}, fmt.Errorf("%w: snapshot count %d, entries %d", ErrMalformed, ws.Count, len(ws.Entries))
	}
	seq, err := seq32(ws.Seq)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	s := Snapshot{Seq: seq, Entries: make([]SnapshotEntry, len(ws.Entries))}
	for i, we := range ws.Entries {
		pos, err := floats3(we.Position)
		if err != nil {
			return Snapshot{}, fmt.Errorf("entry %d position: %w", i, err)
		}
		rot, err := floats4(we.Rotation)
		if err != nil {
			return Snapshot{}, fmt.Errorf("entry %d rotation: %w", i, err)
		}
		s.Entries[i] = SnapshotEntry{PlayerID: we.PlayerID, Position: pos, Rotation: rot}
	}
	return s, nil
}

func decodeProposal(body []byte) (Proposal, error) {
	var wp wireProposal
	if err := msgpack.Unmarshal(body, &wp); err != nil {
		return Proposal{}, fmt.Errorf("%w: proposal: %v", ErrMalformed, err)
	}
	seq, err := seq32(wp.Seq)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: %w", err)
	}
	pos, err := floats3(wp.Position)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal position: %w", err)
	}
	vel, err := floats3(wp.Velocity)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal velocity: %w", err)
	}
	rot, err := floats4(wp.Rotation)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal rotation: %w", err)
	}
	return Proposal{Seq: seq, Position: pos, Velocity: vel, Rotation: rot}, nil
}

// axis 收窄到 int32；取值范围由 Command.Validate 检查
func axis(v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: axis value %d overflows int32", ErrMalformed, v)
	}
	return int32(v), nil
}

func seq32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: sequence %d overflows uint32", ErrMalformed, v)
	}
	return uint32(v), nil
}

func floats3(in []float32) ([3]float32, error) {
	var out [3]float32
	if len(in) != len(out) {
		return out, fmt.Errorf("%w: want 3 components, got %d", ErrMalformed, len(in))
	}
	if err := finite(in); err != nil {
		return out, err
	}
	copy(out[:], in)
	return out, nil
}

func floats4(in []float32) ([4]float32, error) {
	var out [4]float32
	if len(in) != len(out) {
		return out, fmt.Errorf("%w: want 4 components, got %d", ErrMalformed, len(in))
	}
	if err := finite(in); err != nil {
		return out, err
	}
	copy(out[:], in)
	return out, nil
}

func finite(in []float32) error {
	for _, f := range in {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite component", ErrMalformed)
		}
	}
	return nil
}

// PackVec3 将仿真向量压缩为线上 float32 表示
func PackVec3(v mgl64.Vec3) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// UnpackVec3 线上表示还原为仿真向量
func UnpackVec3(a [3]float32) mgl64.Vec3 {
	return mgl64.Vec3{float64(a[0]), float64(a[1]), float64(a[2])}
}

// PackQuat 四元数按 w, x, y, z 顺序打包
func PackQuat(q mgl64.Quat) [4]float32 {
	return [4]float32{float32(q.W), float32(q.V[0]), float32(q.V[1]), float32(q.V[2])}
}

// UnpackQuat 还原四元数
func UnpackQuat(a [4]float32) mgl64.Quat {
	return mgl64.Quat{W: float64(a[0]), V: mgl64.Vec3{float64(a[1]), float64(a[2]), float64(a[3])}}
}
