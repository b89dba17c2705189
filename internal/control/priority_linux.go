//go:build linux

package control

import (
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

type hostPriority struct{}

func (hostPriority) Alive(pid int) (bool, error) {
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}
	return proc != nil, nil
}

// Nice converts the raw getpriority(2) result; the Linux syscall returns
// 20 - nice so that it is never negative.
func (hostPriority) Nice(pid int) (int, error) {
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, err
	}
	return 20 - raw, nil
}

func (hostPriority) SetNice(pid int, nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}
