//go:build unix

package calibre

import (
	"os/exec"
	"syscall"
)

// killGroup runs the tool in its own process group and kills the whole
// group on cancel, so wrappers that fork the real converter stop with it.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
