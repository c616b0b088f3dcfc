// Package procgroup binds spawned child processes to a group that can be torn
// down as a unit, so nothing outlives the supervisor.
//
// On Windows the group is a job object with kill-on-close. On unix each child
// leads its own process group and teardown signals the group plus every
// descendant found by walking the process tree.
package procgroup

import (
	"errors"
	"os/exec"
	"time"

	"github.com/go-localmodel/pkg/utils"
)

var (
	ErrPlatformUnsupported = errors.New("process groups are not supported on this platform")
	ErrInvalidState        = errors.New("process group has been torn down")
	ErrResourceExhausted   = errors.New("unable to allocate process group")
)

// Member is a process attached to a group
type Member struct {
	PID      int
	Attached time.Time
	// Started is the process creation time in ms since the epoch, 0 when unknown.
	// Teardown compares it to tell a member from a process that reused its pid.
	Started int64
}

// Group owns a set of child processes
type Group interface {
	// Prepare sets spawn attributes; call it before cmd.Start.
	Prepare(cmd *exec.Cmd)
	// Attach adds a running process. It returns false when the process has
	// already exited or could not be attached.
	Attach(pid int) (bool, error)
	// Detach forgets a member once it has been reaped. Unknown pids are ignored.
	Detach(pid int)
	// Teardown force-terminates every live member. Safe to call more than once.
	Teardown() error
	// Members lists attached processes.
	Members() []Member
}

// New creates a group for the current platform
func New(logger *utils.Logger) (Group, error) {
	return newGroup(logger)
}
