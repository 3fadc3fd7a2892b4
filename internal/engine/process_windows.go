//go:build windows

package engine

import "os/exec"

func configureProcessGroup(_ *exec.Cmd) {}
