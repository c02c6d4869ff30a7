//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package eval

import "golang.org/x/sys/unix"

// setNice lowers the scheduling priority of process pid.
func setNice(pid, nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}
