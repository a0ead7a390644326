package protocol

import "fmt"

// BatchSize 每个批次包含的子 Tick 命令数
const BatchSize = 5

// AxisLimit 轴向输入的取值上限（整数单位刻度，范围 [-AxisLimit, AxisLimit]）
const AxisLimit = 1

// ConnID 连接标识，同时作为玩家 ID
type ConnID uint64

// Command 单个子 Tick 的输入快照，创建后只读
type Command struct {
	Primary    bool  // 主操作键（原鼠标左键）
	Secondary  bool  // 副操作键（原鼠标右键，开启横移）
	Jump       bool  // 跳跃
	Sprint     bool  // 冲刺
	Horizontal int32 // 左右轴
	Vertical   int32 // 前后轴
}

// Validate 检查轴向取值是否越界
func (c Command) Validate() error {
	if c.Horizontal < -AxisLimit || c.Horizontal > AxisLimit {
		return fmt.Errorf("%w: horizontal axis %d out of range", ErrMalformed, c.Horizontal)
	}
	if c.Vertical < -AxisLimit || c.Vertical > AxisLimit {
		return fmt.Errorf("%w: vertical axis %d out of range", ErrMalformed, c.Vertical)
	}
	return nil
}

// CommandBatch 连续 BatchSize 个子 Tick 的命令，整体替换，不合并
type CommandBatch struct {
	Seq      uint32
	Commands [BatchSize]Command
}

// Validate 检查批次内所有命令
func (b CommandBatch) Validate() error {
	for i, c := range b.Commands {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
	}
	return nil
}

// UniformBatch 构造 BatchSize 个相同命令组成的批次
func UniformBatch(seq uint32, c Command) CommandBatch {
	b := CommandBatch{Seq: seq}
	for i := range b.Commands {
		b.Commands[i] = c
	}
	return b
}
