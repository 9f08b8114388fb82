//go:build windows

package process

import "os"

// Windows has no graceful signal for arbitrary processes; both steps kill.
func terminateSignal(pid int) error { return killSignal(pid) }

func killSignal(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	defer func() { _ = p.Release() }()
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// processExists relies on OpenProcess failing for unknown pids.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
