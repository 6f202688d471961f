package procwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc materializes a minimal /proc entry that the procfs library can
// parse: a full 52-field stat line plus a status file with the peak-RSS
// high-water mark.
func fakeProc(t *testing.T, root string, pid, ppid int, comm string, utime, stime uint64, vmHWMKB int64) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprintf("%d", pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	stat := fmt.Sprintf(
		"%d (%s) S %d 1 1 0 -1 4194304 100 0 0 0 %d %d 0 0 20 0 1 0 1000 10000000 500 18446744073709551615 1 1 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n",
		pid, comm, ppid, utime, stime)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))

	status := fmt.Sprintf("Name:\t%s\nPid:\t%d\nPPid:\t%d\nVmPeak:\t%d kB\nVmHWM:\t%d kB\nVmRSS:\t%d kB\n",
		comm, pid, ppid, vmHWMKB+1000, vmHWMKB, vmHWMKB-100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
}

func newFakeFS(t *testing.T) (procfs.FS, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := procfs.NewFS(root)
	require.NoError(t, err)
	return fs, root
}

func TestResolveWalksThroughWrappers(t *testing.T) {
	fs, root := newFakeFS(t)
	// bash -> taskset -> toolify
	fakeProc(t, root, 100, 1, "bash", 0, 0, 100)
	fakeProc(t, root, 101, 100, "taskset", 0, 0, 100)
	fakeProc(t, root, 102, 101, "toolify", 0, 0, 100)

	r := NewResolver(fs)
	assert.Equal(t, 102, r.Resolve(100, "toolify"))
}

func TestResolveDirectHit(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 200, 1, "toolify", 0, 0, 100)

	r := NewResolver(fs)
	assert.Equal(t, 200, r.Resolve(200, "toolify"))
}

func TestResolvePrefersNonWrapperChild(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 300, 1, "sh", 0, 0, 100)
	fakeProc(t, root, 301, 300, "sh", 0, 0, 100)
	fakeProc(t, root, 302, 300, "worker", 0, 0, 100)

	r := NewResolver(fs)
	assert.Equal(t, 302, r.Resolve(300, "toolify"))
}

func TestResolvePrefersTargetChildOverEarlierSiblings(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 400, 1, "sh", 0, 0, 100)
	fakeProc(t, root, 401, 400, "logger", 0, 0, 100)
	fakeProc(t, root, 402, 400, "toolify", 0, 0, 100)

	r := NewResolver(fs)
	assert.Equal(t, 402, r.Resolve(400, "toolify"))
}

func TestResolveStopsAtDepthBound(t *testing.T) {
	fs, root := newFakeFS(t)
	// A chain of nested shells deeper than the walk bound, with no target
	// anywhere. The resolver must still return a concrete PID.
	for i := 0; i < 10; i++ {
		ppid := 1
		if i > 0 {
			ppid = 500 + i - 1
		}
		fakeProc(t, root, 500+i, ppid, "sh", 0, 0, 100)
	}

	r := NewResolver(fs)
	got := r.Resolve(500, "toolify")
	assert.Equal(t, 508, got, "eight descend steps from 500")
}

func TestResolveUnknownPIDReturnsInput(t *testing.T) {
	fs, _ := newFakeFS(t)
	r := NewResolver(fs)
	assert.Equal(t, 999, r.Resolve(999, "toolify"))
}

func TestSnapshotReadsTicksAndPeakRSS(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 600, 1, "toolify", 120, 30, 9216)

	s := NewSampler(fs)
	usage, err := s.Snapshot(600)
	require.NoError(t, err)
	assert.InDelta(t, 150, usage.CPUTicks, 1e-9)
	assert.Equal(t, int64(9216), usage.PeakRSSKB)
}

func TestSessionDerivesCPUPercent(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 700, 1, "toolify", 100, 0, 9000)

	s := NewSampler(fs)
	sess, err := s.Begin(700)
	require.NoError(t, err)

	// Ticks advance while RSS peaks higher.
	fakeProc(t, root, 700, 1, "toolify", 180, 20, 9500)

	res := sess.Finish()
	assert.Greater(t, res.CPUPercent, 0.0)
	assert.Equal(t, int64(9500), res.PeakRSSKB)
}

func TestSessionClampsWhenTicksDoNotAdvance(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 710, 1, "toolify", 100, 0, 9000)

	s := NewSampler(fs)
	sess, err := s.Begin(710)
	require.NoError(t, err)

	res := sess.Finish()
	assert.Equal(t, 0.0, res.CPUPercent)
	assert.Equal(t, int64(9000), res.PeakRSSKB)
}

func TestSessionSurvivesProcessExit(t *testing.T) {
	fs, root := newFakeFS(t)
	fakeProc(t, root, 720, 1, "toolify", 100, 0, 9100)

	s := NewSampler(fs)
	sess, err := s.Begin(720)
	require.NoError(t, err)

	// Process vanishes before the window closes: the starting observation
	// is the last good reading and CPU clamps to zero.
	require.NoError(t, os.RemoveAll(filepath.Join(root, "720")))

	res := sess.Finish()
	assert.Equal(t, 0.0, res.CPUPercent)
	assert.Equal(t, int64(9100), res.PeakRSSKB)
}
