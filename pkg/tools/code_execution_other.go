//go:build !unix

package tools

import "os/exec"

// Without unix process groups the default Cancel kills the child only.
func isolateProcess(*exec.Cmd) {}

func killGroup(*exec.Cmd) {}

func limitSignal(*exec.ExitError) (string, bool) { return "", false }
