package server

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"movesync/config"
)

// DefaultRoom 未指定房间时使用的房间 ID
const DefaultRoom = "room-1"

// ErrStopped 管理器已停止，不再创建房间
var ErrStopped = errors.New("room manager stopped")

// Manager 管理多个房间的生命周期；每个房间的循环在同一 errgroup 中运行
type Manager struct {
	cfg      config.Server
	log      *zap.SugaredLogger
	recorder Recorder

	ctx context.Context
	g   *errgroup.Group

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager 创建管理器；ctx 取消时所有房间停止
func NewManager(ctx context.Context, cfg config.Server, log *zap.SugaredLogger, rec Recorder) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	g, ctx := errgroup.WithContext(ctx)
	return &Manager{
		cfg:      cfg,
		log:      log,
		recorder: rec,
		ctx:      ctx,
		g:        g,
		rooms:    make(map[string]*Room),
	}
}

// GetOrCreateRoom 获取或创建房间，并确保开始 Tick
func (m *Manager) GetOrCreateRoom(id string) (*Room, error) {
	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r, nil
	}
	if m.ctx.Err() != nil {
		return nil, ErrStopped
	}
	r = NewRoom(id, m.cfg, m.log, m.recorder)
	m.rooms[id] = r
	m.g.Go(func() error { return r.Run(m.ctx) })
	m.log.Infof("room %s created", id)
	return r, nil
}

// Room 查找已存在的房间
func (m *Manager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Wait 等待所有房间循环退出
func (m *Manager) Wait() error {
	return m.g.Wait()
}
