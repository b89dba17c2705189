//go:build !linux

package control

import (
	"errors"

	ps "github.com/mitchellh/go-ps"
)

var errPriorityUnsupported = errors.New("priority backend is only supported on linux")

type hostPriority struct{}

func (hostPriority) Alive(pid int) (bool, error) {
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}
	return proc != nil, nil
}

func (hostPriority) Nice(int) (int, error) { return 0, errPriorityUnsupported }

func (hostPriority) SetNice(int, int) error { return errPriorityUnsupported }
