//go:build !unix

package calibre

import "os/exec"

func killGroup(cmd *exec.Cmd) {}
