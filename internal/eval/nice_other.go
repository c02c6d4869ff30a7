//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package eval

import "errors"

func setNice(pid, nice int) error {
	return errors.New("nice not supported on this platform")
}
