// Package fixedrate 固定频率调度：按周期回调，取消即停止调度
package fixedrate

import (
	"context"
	"fmt"
	"time"
)

// Loop 按固定周期调用 Fn
type Loop struct {
	Interval time.Duration
	Fn       func(now time.Time)
}

// Run 阻塞运行直到 ctx 取消；取消视为正常结束
func (l Loop) Run(ctx context.Context) error {
	if l.Interval <= 0 {
		return fmt.Errorf("fixedrate: non-positive interval %s", l.Interval)
	}
	if l.Fn == nil {
		return fmt.Errorf("fixedrate: nil callback")
	}
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Fn(now)
		}
	}
}

// Every 将频率（次/秒）换算为周期
func Every(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}
