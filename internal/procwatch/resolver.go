// Package procwatch resolves the real subject-service process behind wrapper
// indirections and samples its CPU time and peak resident memory from /proc.
package procwatch

import (
	"github.com/prometheus/procfs"
)

// maxResolveDepth bounds the wrapper-chain walk. Beyond this the resolver
// returns whatever PID it last held rather than looping forever on a
// pathological process tree.
const maxResolveDepth = 8

// defaultWrapperComms are process names treated as thin launch wrappers:
// the subject is expected somewhere beneath them, never at them.
var defaultWrapperComms = map[string]bool{
	"sh":      true,
	"bash":    true,
	"dash":    true,
	"taskset": true,
	"setsid":  true,
	"env":     true,
	"nice":    true,
	"timeout": true,
}

// Resolver walks a process's descendant chain to find the long-running
// subject binary underneath shell and core-pinning wrappers.
type Resolver struct {
	fs       procfs.FS
	wrappers map[string]bool
}

// NewResolver builds a resolver over the given proc filesystem.
func NewResolver(fs procfs.FS) *Resolver {
	return &Resolver{fs: fs, wrappers: defaultWrapperComms}
}

// Resolve returns the PID of the actual subject process given the PID of the
// directly spawned launcher. The walk stops at the first process whose comm
// matches targetComm; at a non-wrapper process; or at the depth bound. At
// each wrapper it prefers a child matching targetComm, then the first
// non-wrapper child, then the first child. It always returns a concrete PID:
// on any read failure or dead end the last held PID stands.
func (r *Resolver) Resolve(pid int, targetComm string) int {
	current := pid
	for depth := 0; depth < maxResolveDepth; depth++ {
		proc, err := r.fs.Proc(current)
		if err != nil {
			return current
		}
		stat, err := proc.Stat()
		if err != nil {
			return current
		}
		if commMatches(stat.Comm, targetComm) {
			return current
		}
		if !r.wrappers[stat.Comm] {
			return current
		}

		children := r.childrenOf(current)
		if len(children) == 0 {
			return current
		}
		current = r.pickChild(children, targetComm)
	}
	return current
}

// childrenOf lists direct children of pid in PID order. /proc has no child
// index, so this scans all processes and filters on PPID.
func (r *Resolver) childrenOf(pid int) []procfs.ProcStat {
	procs, err := r.fs.AllProcs()
	if err != nil {
		return nil
	}
	var children []procfs.ProcStat
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		if stat.PPID == pid {
			children = append(children, stat)
		}
	}
	return children
}

func (r *Resolver) pickChild(children []procfs.ProcStat, targetComm string) int {
	for _, c := range children {
		if commMatches(c.Comm, targetComm) {
			return c.PID
		}
	}
	for _, c := range children {
		if !r.wrappers[c.Comm] {
			return c.PID
		}
	}
	return children[0].PID
}

// commMatches compares a /proc comm against the expected binary name. The
// kernel truncates comm to 15 characters, so a prefix match at that length
// also counts.
func commMatches(comm, target string) bool {
	if comm == target {
		return true
	}
	return len(target) > 15 && comm == target[:15]
}
