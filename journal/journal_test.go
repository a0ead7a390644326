package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/movement"
	"movesync/protocol"
)

func simulate(n int) []Record {
	params := movement.DefaultParams()
	s := movement.Spawn(mgl64.Vec3{0, 1, 0}, 0)
	recs := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		cmd := protocol.Command{Vertical: 1, Horizontal: int32(i%3) - 1, Jump: i == 10, Sprint: i%4 == 0}
		next := movement.Step(s, cmd, 0.02, movement.EmptyWorld, params)
		recs = append(recs, Record{Tick: uint64(i + 1), Room: "room-1", Player: 1, DT: 0.02, Command: cmd, Before: s, After: next})
		s = next
	}
	return recs
}

func TestWriterReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "moves", nil)
	in := simulate(50)
	for _, r := range in {
		require.True(t, w.Record(r))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(50), w.Written())

	out, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.Equal(t, in[17], out[17])

	res := Replay(out, movement.EmptyWorld, movement.DefaultParams(), 1e-12)
	assert.Equal(t, 50, res.Checked)
	assert.Nil(t, res.Divergence)
}

func TestReplayDetectsTamperedRecord(t *testing.T) {
	recs := simulate(20)
	recs[12].After.Position[2] += 0.25

	res := Replay(recs, movement.EmptyWorld, movement.DefaultParams(), 1e-9)
	require.NotNil(t, res.Divergence)
	assert.Equal(t, 12, res.Divergence.Index)
	assert.Equal(t, 13, res.Checked)
	assert.Contains(t, res.Divergence.String(), "tick 13")
}

func TestReplayDetectsParamMismatch(t *testing.T) {
	p := movement.DefaultParams()
	p.MoveSpeed = 9
	res := Replay(simulate(5), movement.EmptyWorld, p, 1e-9)
	assert.NotNil(t, res.Divergence)
}

func TestRecordAfterCloseIsRejected(t *testing.T) {
	w := NewWriter(t.TempDir(), "moves", nil)
	require.NoError(t, w.Close())
	assert.False(t, w.Record(Record{}))
	require.NoError(t, w.Close(), "close is idempotent")
}

func TestReadDirSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	recs, err := ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWriterFileNaming(t *testing.T) {
	w := &Writer{baseDir: "/tmp/j", prefix: "moves"}
	p := w.pathForHour("2026-10-18-07")
	assert.True(t, strings.HasSuffix(p, "moves-2026-10-18-07"+FileSuffix))
}
