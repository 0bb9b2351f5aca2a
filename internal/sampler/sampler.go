// Package sampler reads CPU and resident memory usage of a process tree
// from /proc.
package sampler

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

type Usage struct {
	CPUPercent float64
	MemoryKb   int64
}

type Sampler struct {
	fs procfs.FS
}

func New() (*Sampler, error) {
	return NewWithMount(procfs.DefaultMountPoint)
}

func NewWithMount(mountPoint string) (*Sampler, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open procfs")
	}
	return &Sampler{fs: fs}, nil
}

// Sample sums usage of pid and all of its live descendants. Processes that
// exit while being read contribute nothing; read errors are never returned.
func (s *Sampler) Sample(pid int) Usage {
	var usage Usage
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	for _, p := range append([]int{pid}, s.Descendants(pid)...) {
		proc, err := s.fs.Proc(p)
		if err != nil {
			continue
		}
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		usage.MemoryKb += int64(stat.ResidentMemory() / 1024)
		started, err := stat.StartTime()
		if err != nil || now <= started {
			continue
		}
		usage.CPUPercent += 100 * stat.CPUTime() / (now - started)
	}
	return usage
}

// Descendants returns every live descendant of pid in breadth-first order,
// so reversing the slice gives deepest-first.
func (s *Sampler) Descendants(pid int) []int {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil
	}
	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		children[stat.PPID] = append(children[stat.PPID], p.PID)
	}

	var out []int
	seen := map[int]bool{pid: true}
	queue := []int{pid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// Peak keeps the highest memory reading seen so far. Safe for concurrent use.
type Peak struct {
	mu sync.Mutex
	kb int64
}

func (p *Peak) Observe(u Usage) {
	p.mu.Lock()
	p.kb = max(p.kb, u.MemoryKb)
	p.mu.Unlock()
}

func (p *Peak) MemoryKb() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kb
}
