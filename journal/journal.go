// Package journal 记录权威仿真的每一步（JSONL + zstd，按小时滚动），用于离线重放校验确定性
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"movesync/movement"
	"movesync/protocol"
)

// FileSuffix 日志文件后缀
const FileSuffix = ".jsonl.zst"

// Record 单个玩家的一次仿真步
type Record struct {
	Tick    uint64           `json:"tick"`
	Room    string           `json:"room"`
	Player  uint64           `json:"player"`
	DT      float64          `json:"dt"`
	Starved bool             `json:"starved,omitempty"`
	Command protocol.Command `json:"cmd"`
	Before  movement.State   `json:"before"`
	After   movement.State   `json:"after"`
}

// Writer 异步写入：Record 不阻塞调用方，队列满时丢弃并计数
type Writer struct {
	baseDir string
	prefix  string
	log     *zap.SugaredLogger
	now     func() time.Time

	mu      sync.RWMutex // 保护 ch 的关闭
	closed  bool
	ch      chan Record
	done    chan struct{}
	dropped atomic.Uint64
	written atomic.Uint64

	// 以下仅由写协程访问
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	err     error
}

// NewWriter 在 baseDir 下创建 <prefix>-<YYYY-MM-DD-HH>.jsonl.zst
func NewWriter(baseDir, prefix string, log *zap.SugaredLogger) *Writer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := &Writer{
		baseDir: baseDir,
		prefix:  prefix,
		log:     log,
		now:     time.Now,
		ch:      make(chan Record, 4096),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Record 入队一条记录；队列满或已关闭时返回 false
func (w *Writer) Record(rec Record) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.ch <- rec:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped 因队列满被丢弃的记录数
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Written 已写入的记录数
func (w *Writer) Written() uint64 { return w.written.Load() }

// Close 写完队列中剩余记录并关闭文件
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	<-w.done
	return w.err
}

func (w *Writer) loop() {
	defer close(w.done)
	for rec := range w.ch {
		if err := w.write(rec); err != nil {
			w.log.Errorf("journal write: %v", err)
			w.err = err
			continue
		}
		w.written.Add(1)
		if len(w.ch) == 0 {
			if err := w.flush(); err != nil {
				w.log.Errorf("journal flush: %v", err)
			}
		}
	}
	if err := w.closeFile(); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *Writer) write(rec Record) error {
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotate(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) flush() error {
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) rotate(hour string) error {
	if err := w.closeFile(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeFile() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s%s", w.prefix, hour, FileSuffix))
}
