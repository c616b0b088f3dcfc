//go:build unix

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/go-localmodel/pkg/utils"
)

type unixGroup struct {
	mu      sync.Mutex
	members map[int]Member
	closed  bool
	logger  *utils.Logger
}

func newGroup(logger *utils.Logger) (Group, error) {
	return &unixGroup{
		members: make(map[int]Member),
		logger:  logger,
	}, nil
}

func (g *unixGroup) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	setParentDeathSignal(cmd.SysProcAttr)
}

func (g *unixGroup) Attach(pid int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrInvalidState
	}
	if !alive(pid) {
		g.logger.Debug("Process %d already exited, not attaching", pid)
		return false, nil
	}

	g.members[pid] = Member{PID: pid, Attached: time.Now(), Started: createTime(pid)}
	g.logger.Debug("Attached process %d to group", pid)
	return true, nil
}

func (g *unixGroup) Detach(pid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[pid]; ok {
		delete(g.members, pid)
		g.logger.Debug("Detached process %d from group", pid)
	}
}

func (g *unixGroup) Teardown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	for pid, m := range g.members {
		if !sameProcess(m) {
			g.logger.Debug("Skipping %d: pid now belongs to another process", pid)
			continue
		}
		// Collect descendants first; once the parent dies they are reparented and the tree is lost.
		descendants := descendantsOf(int32(pid))

		target := pid
		if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
			target = -pgid
		}
		if err := unix.Kill(target, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
		}

		for _, child := range descendants {
			if err := unix.Kill(int(child), unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				g.logger.Debug("Failed to kill descendant %d of %d: %v", child, pid, err)
			}
		}
		g.logger.Debug("Terminated process %d (%d descendants)", pid, len(descendants))
	}

	return errors.Join(errs...)
}

func (g *unixGroup) Members() []Member {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// alive reports whether pid names a running, non-zombie process
func alive(pid int) bool {
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func createTime(pid int) int64 {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	t, err := p.CreateTime()
	if err != nil {
		return 0
	}
	return t
}

// sameProcess is false only when a live process holds m.PID with a different creation time
func sameProcess(m Member) bool {
	if m.Started == 0 {
		return true
	}
	now := createTime(m.PID)
	return now == 0 || now == m.Started
}

func descendantsOf(pid int32) []int32 {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []int32
	for _, c := range children {
		out = append(out, c.Pid)
		out = append(out, descendantsOf(c.Pid)...)
	}
	return out
}
