//go:build unix && !linux

package procgroup

import "syscall"

// Only Linux can ask the kernel to signal a child when its parent dies.
func setParentDeathSignal(*syscall.SysProcAttr) {}
