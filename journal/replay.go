package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"movesync/movement"
)

// ReadFile 解压并逐行解析一个日志文件
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd %s: %w", path, err)
	}
	defer dec.Close()

	var out []Record
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// ReadDir 按文件名（即时间）顺序读取目录下全部日志
func ReadDir(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), FileSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []Record
	for _, name := range names {
		recs, err := ReadFile(filepath.Join(dir, name))
		if err != nil {
			return all, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// Divergence 重放结果与记录不一致的第一条记录
type Divergence struct {
	Index  int
	Record Record
	Got    movement.State
}

func (d Divergence) String() string {
	return fmt.Sprintf("record %d (tick %d player %d): recorded %+v, replayed %+v",
		d.Index, d.Record.Tick, d.Record.Player, d.Record.After, d.Got)
}

// Result 重放汇总
type Result struct {
	Checked    int
	Divergence *Divergence
}

// Replay 对每条记录用相同输入重新执行 movement.Step，遇到超出容差的结果即停止
func Replay(records []Record, world movement.World, params movement.Params, tol float64) Result {
	var res Result
	for i, rec := range records {
		got := movement.Step(rec.Before, rec.Command, rec.DT, world, params)
		res.Checked++
		if !got.ApproxEqual(rec.After, tol) {
			res.Divergence = &Divergence{Index: i, Record: rec, Got: got}
			return res
		}
	}
	return res
}
