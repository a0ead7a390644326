package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"movesync/config"
	"movesync/journal"
	"movesync/server"
)

// movesync 入口：启动 HTTP + WebSocket 服务，房间按需创建
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("MOVESYNC_CONFIG")
	if path == "" {
		path = "config/server.yaml"
	}
	var addr string
	flag.StringVar(&path, "config", path, "path to server YAML config")
	flag.StringVar(&addr, "addr", "", "override listen address, e.g. :8080")
	flag.Parse()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	log, err := server.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rec server.Recorder
	if cfg.JournalDir != "" {
		jw := journal.NewWriter(cfg.JournalDir, "sim", log.Named("journal"))
		defer func() {
			if err := jw.Close(); err != nil {
				log.Errorf("journal close: %v", err)
			}
			log.Infof("journal: %d records written, %d dropped", jw.Written(), jw.Dropped())
		}()
		rec = jw
	}

	g, gctx := errgroup.WithContext(ctx)
	rm := server.NewManager(gctx, cfg, log, rec)
	// 先预创建一个默认房间，便于快速试跑
	if _, err := rm.GetOrCreateRoom(server.DefaultRoom); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rm.HandleWS)
	// 管理与监控接口
	mux.HandleFunc("/admin/config", rm.HandleAdminConfig)
	mux.HandleFunc("/metrics", rm.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Infof("movesync listening on %s (tick=%s broadcast=%s)", cfg.Addr, cfg.ConsumeInterval(), cfg.BroadcastInterval())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// 优雅退出（Ctrl+C）
		<-gctx.Done()
		log.Info("Shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(rm.Wait)

	return g.Wait()
}
