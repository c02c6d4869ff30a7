//go:build linux || darwin

package eval

import (
	"os/exec"
	"testing"

	"github.com/matryer/is"
)

func TestSetNice(t *testing.T) {
	is := is.New(t)

	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	is.NoErr(setNice(cmd.Process.Pid, 10)) // lowering priority needs no privileges
}
