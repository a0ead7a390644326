// Package config 服务端与客户端的 YAML 配置
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"movesync/movement"
	"movesync/protocol"
)

// Log 日志输出配置（文件滚动）
type Log struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"` // 同时输出到 stderr
}

// NetSim 入站链路模拟：丢包与随机延迟（延迟会造成乱序）
type NetSim struct {
	DropProb   float64 `yaml:"drop_prob"`
	DelayMinMs int     `yaml:"delay_min_ms"`
	DelayMaxMs int     `yaml:"delay_max_ms"`
}

// RateLimit 单连接入站消息限流
type RateLimit struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// World 静态碰撞世界
type World struct {
	GroundY float64        `yaml:"ground_y"`
	Spawn   [3]float64     `yaml:"spawn"`
	Boxes   []movement.Box `yaml:"boxes"`
}

// Server 权威服务端全部配置
type Server struct {
	Addr string `yaml:"addr"`
	Log  Log    `yaml:"log"`

	// 节奏：客户端每秒发送批次数；消费间隔 = ConsumeRatio / (SendRate × BatchSize)
	SendRate      float64 `yaml:"send_rate"`
	ConsumeRatio  float64 `yaml:"consume_ratio"`
	BroadcastRate float64 `yaml:"broadcast_rate"`

	MaxDeltaPerTick float64         `yaml:"max_delta_per_tick"`
	Movement        movement.Params `yaml:"movement"`
	World           World           `yaml:"world"`

	NetSim    NetSim    `yaml:"netsim"`
	RateLimit RateLimit `yaml:"rate_limit"`
	SendQueue int       `yaml:"send_queue"`

	JournalDir string `yaml:"journal_dir"`
}

// Default 默认配置：20Hz 发送、5 条/批、半速消费、20Hz 广播
func Default() Server {
	return Server{
		Addr: ":8080",
		Log: Log{
			File:       "app.log",
			Level:      "debug",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		SendRate:        20,
		ConsumeRatio:    2,
		BroadcastRate:   20,
		MaxDeltaPerTick: movement.DefaultMaxDeltaPerTick,
		Movement:        movement.DefaultParams(),
		World: World{
			Spawn: [3]float64{0, movement.DefaultHalfExtents[1], 0},
		},
		RateLimit: RateLimit{
			MessagesPerSecond: 40,
			Burst:             10,
		},
		SendQueue: 64,
	}
}

// Load 读取 YAML 配置；文件不存在时返回默认值
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// ErrInvalid 配置校验失败
var ErrInvalid = errors.New("invalid config")

// Validate 校验节奏与模拟参数
func (c Server) Validate() error {
	switch {
	case c.SendRate <= 0:
		return fmt.Errorf("%w: send_rate must be positive", ErrInvalid)
	case c.BroadcastRate <= 0:
		return fmt.Errorf("%w: broadcast_rate must be positive", ErrInvalid)
	case c.ConsumeRatio <= 1:
		// 消费必须严格慢于生产，否则新批次来不及到达
		return fmt.Errorf("%w: consume_ratio %.2f must be > 1", ErrInvalid, c.ConsumeRatio)
	case c.MaxDeltaPerTick <= 0:
		return fmt.Errorf("%w: max_delta_per_tick must be positive", ErrInvalid)
	case c.NetSim.DropProb < 0 || c.NetSim.DropProb >= 1:
		return fmt.Errorf("%w: netsim.drop_prob %.2f outside [0,1)", ErrInvalid, c.NetSim.DropProb)
	case c.NetSim.DelayMinMs < 0 || c.NetSim.DelayMaxMs < c.NetSim.DelayMinMs:
		return fmt.Errorf("%w: netsim delay window [%d,%d]", ErrInvalid, c.NetSim.DelayMinMs, c.NetSim.DelayMaxMs)
	case c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst < 1:
		return fmt.Errorf("%w: rate_limit needs positive rate and burst", ErrInvalid)
	}
	return nil
}

// SampleInterval 客户端子 Tick 采样间隔
func (c Server) SampleInterval() time.Duration {
	return time.Duration(float64(time.Second) / (c.SendRate * protocol.BatchSize))
}

// ConsumeInterval 服务端游标推进（即服务端 Tick）间隔
func (c Server) ConsumeInterval() time.Duration {
	return time.Duration(c.ConsumeRatio * float64(c.SampleInterval()))
}

// BroadcastInterval 状态广播间隔
func (c Server) BroadcastInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.BroadcastRate)
}

// Client 客户端（机器人）配置
type Client struct {
	URL           string          `yaml:"url"`
	Room          string          `yaml:"room"`
	SendRate      float64         `yaml:"send_rate"`
	FrameRate     float64         `yaml:"frame_rate"`
	SnapThreshold float64         `yaml:"snap_threshold"`
	LerpRate      float64         `yaml:"lerp_rate"`
	Movement      movement.Params `yaml:"movement"`
}

// DefaultClient 客户端默认值
func DefaultClient() Client {
	return Client{
		URL:           "ws://localhost:8080/ws",
		Room:          "room-1",
		SendRate:      20,
		FrameRate:     60,
		SnapThreshold: 2.0,
		LerpRate:      10,
		Movement:      movement.DefaultParams(),
	}
}

// LoadClient 读取客户端配置；文件不存在时返回默认值
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.SendRate <= 0 || cfg.FrameRate <= 0 {
		return cfg, fmt.Errorf("%w: send_rate and frame_rate must be positive", ErrInvalid)
	}
	return cfg, nil
}

// SampleInterval 客户端采样间隔
func (c Client) SampleInterval() time.Duration {
	return time.Duration(float64(time.Second) / (c.SendRate * protocol.BatchSize))
}
