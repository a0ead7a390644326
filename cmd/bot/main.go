// bot 无界面客户端：按固定节奏发送命令批次，本地预测自身并插值其他玩家
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"movesync/client"
	"movesync/config"
	"movesync/fixedrate"
	"movesync/movement"
	"movesync/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		path     string
		url      string
		room     string
		duration time.Duration
		propose  bool
		turn     int
		level    string
	)
	flag.StringVar(&path, "config", "config/client.yaml", "path to client YAML config")
	flag.StringVar(&url, "url", "", "override server websocket url")
	flag.StringVar(&room, "room", "", "override room id")
	flag.DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	flag.BoolVar(&propose, "propose", false, "also send position proposals for anti-cheat validation")
	flag.IntVar(&turn, "turn", 0, "horizontal axis to hold (-1, 0, 1)")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	cfg, err := config.LoadClient(path)
	if err != nil {
		return err
	}
	if url != "" {
		cfg.URL = url
	}
	if room != "" {
		cfg.Room = room
	}

	lv, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lv)
	zl, err := zcfg.Build()
	if err != nil {
		return err
	}
	log := zl.Sugar().Named("bot")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	conn, err := client.Dial(ctx, cfg.URL, cfg.Room, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	// 每条采样命令对应一个采样间隔的仿真时间
	dt := cfg.SampleInterval().Seconds()
	predictor := client.NewPredictor(movement.Spawn(mgl64.Vec3{0, movement.DefaultHalfExtents[1], 0}, 0), movement.EmptyWorld, cfg.Movement, dt)
	predictor.SnapThreshold = cfg.SnapThreshold
	replicas := client.NewReconciler(log)
	replicas.SnapThreshold = cfg.SnapThreshold
	replicas.LerpRate = cfg.LerpRate

	var sender client.BatchSender = conn
	if propose {
		sender = &proposingSender{conn: conn, predictor: predictor}
	}
	cmd := protocol.Command{Vertical: 1, Horizontal: int32(turn)}
	sampler := client.NewSampler(client.InputFunc(func() protocol.Command { return cmd }), sender, log)
	sampler.OnSample(predictor.Apply)

	var snapshots, corrections atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.ReadLoop(gctx, client.Handlers{
			Welcome: func(w protocol.Welcome) {
				predictor.SetSelf(w.PlayerID)
				log.Infof("joined %s as player %d (send=%dHz broadcast=%dHz)", cfg.Room, w.PlayerID, w.SendRate, w.BroadcastRate)
			},
			Snapshot: func(s protocol.Snapshot) {
				if replicas.Apply(s) {
					snapshots.Add(1)
					if predictor.Reconcile(s) {
						log.Debugf("prediction snapped to server at snapshot %d", s.Seq)
					}
				}
			},
			Correction: func(c protocol.Correction) {
				corrections.Add(1)
				predictor.Correct(protocol.UnpackVec3(c.Position))
				log.Infof("server corrected position to %v", c.Position)
			},
		})
	})
	g.Go(func() error {
		return sampler.Run(gctx, cfg.SampleInterval())
	})
	g.Go(func() error {
		frame := fixedrate.Every(cfg.FrameRate)
		return fixedrate.Loop{Interval: frame, Fn: func(time.Time) {
			replicas.Update(frame.Seconds())
		}}.Run(gctx)
	})

	err = g.Wait()
	st := predictor.State()
	log.Infof("done: %s batches, %s snapshots, %s server corrections, %s local snaps, %d replicas, final position %v",
		humanize.Comma(int64(sampler.Seq())), humanize.Comma(int64(snapshots.Load())),
		humanize.Comma(int64(corrections.Load())), humanize.Comma(int64(predictor.Corrections()-corrections.Load())),
		len(replicas.Replicas()), st.Position)
	return err
}

// proposingSender 每发送一个批次后，附带一次当前预测位置的提议
type proposingSender struct {
	conn      *client.Conn
	predictor *client.Predictor
	seq       uint32
}

func (s *proposingSender) SendBatch(b protocol.CommandBatch) error {
	if err := s.conn.SendBatch(b); err != nil {
		return err
	}
	st := s.predictor.State()
	s.seq++
	return s.conn.SendProposal(protocol.Proposal{
		Seq:      s.seq,
		Position: protocol.PackVec3(st.Position),
		Velocity: protocol.PackVec3(st.Velocity),
		Rotation: protocol.PackQuat(st.Orientation()),
	})
}
