//go:build !unix

package tools

import "os/exec"

// killGroupOnCancel keeps exec's default of killing only the process.
func killGroupOnCancel(cmd *exec.Cmd) {}
