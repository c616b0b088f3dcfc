//go:build windows

package procgroup

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/go-localmodel/pkg/utils"
)

const stillActive = 259

type jobGroup struct {
	mu      sync.Mutex
	job     windows.Handle
	members map[int]Member
	closed  bool
	logger  *utils.Logger
}

func newGroup(logger *utils.Logger) (Group, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: CreateJobObject: %v", ErrResourceExhausted, err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return nil, fmt.Errorf("%w: SetInformationJobObject: %v", ErrResourceExhausted, err)
	}

	return &jobGroup{
		job:     job,
		members: make(map[int]Member),
		logger:  logger,
	}, nil
}

func (g *jobGroup) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NO_WINDOW
}

func (g *jobGroup) Attach(pid int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrInvalidState
	}

	h, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE|windows.PROCESS_QUERY_LIMITED_INFORMATION,
		false, uint32(pid))
	if err != nil {
		g.logger.Debug("OpenProcess(%d) failed: %v", pid, err)
		return false, nil
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil || code != stillActive {
		g.logger.Debug("Process %d already exited, not attaching", pid)
		return false, nil
	}

	if err := windows.AssignProcessToJobObject(g.job, h); err != nil {
		g.logger.Error("AssignProcessToJobObject(%d) failed: %v", pid, err)
		return false, nil
	}

	g.members[pid] = Member{PID: pid, Attached: time.Now()}
	g.logger.Debug("Attached process %d to job object", pid)
	return true, nil
}

// Detach only drops the bookkeeping entry; the kernel removes exited processes from the job.
func (g *jobGroup) Detach(pid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, pid)
}

// Teardown closes the job handle; the kernel kills every process still in the job.
func (g *jobGroup) Teardown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	if err := windows.CloseHandle(g.job); err != nil {
		return fmt.Errorf("close job object: %w", err)
	}
	return nil
}

func (g *jobGroup) Members() []Member {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
