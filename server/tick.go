package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"movesync/fixedrate"
)

// Run 启动房间的两个固定频率循环：Tick（消费命令、推进世界）与状态广播。
// 两者相互独立，直到 ctx 取消。每个房间只能运行一次。
func (r *Room) Run(ctx context.Context) error {
	started := false
	r.runOnce.Do(func() { started = true })
	if !started {
		return nil
	}

	r.log.Infof("room running: tick=%s broadcast=%s", r.cfg.ConsumeInterval(), r.cfg.BroadcastInterval())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fixedrate.Loop{
			Interval: r.cfg.ConsumeInterval(),
			Fn:       func(time.Time) { r.Tick() },
		}.Run(ctx)
	})
	g.Go(func() error {
		return fixedrate.Loop{
			Interval: r.cfg.BroadcastInterval(),
			Fn:       func(time.Time) { r.Broadcast() },
		}.Run(ctx)
	})
	err := g.Wait()
	r.shutdown()
	return err
}

// shutdown 断开所有玩家
func (r *Room) shutdown() {
	for _, p := range r.snapshotPlayers() {
		r.LeavePlayer(p.ID)
	}
	r.log.Infof("room stopped after %d ticks", r.TickSeq())
}
