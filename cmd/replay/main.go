// replay 读取仿真日志，用同一份配置重新执行每一步并校验结果一致
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"movesync/config"
	"movesync/journal"
	"movesync/movement"
)

func main() {
	var (
		dir  string
		path string
		tol  float64
	)
	flag.StringVar(&dir, "dir", "journal", "directory holding *.jsonl.zst journal files")
	flag.StringVar(&path, "config", "config/server.yaml", "server config the journal was recorded with")
	flag.Float64Var(&tol, "tol", 1e-9, "allowed difference per component")
	flag.Parse()

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	records, err := journal.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read journal: %v\n", err)
		os.Exit(2)
	}

	world := &movement.BoxWorld{GroundY: cfg.World.GroundY, Boxes: cfg.World.Boxes}
	res := journal.Replay(records, world, cfg.Movement, tol)
	if res.Divergence != nil {
		fmt.Printf("diverged after %s steps: %s\n", humanize.Comma(int64(res.Checked)), res.Divergence)
		os.Exit(1)
	}
	fmt.Printf("replayed %s steps from %s, no divergence\n", humanize.Comma(int64(res.Checked)), dir)
}
