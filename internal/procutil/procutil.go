// Package procutil manages encoder subprocess teardown on cancellation
// (spec §5 "On cancel, all live subprocesses receive terminate; the main
// thread waits up to a fixed grace (5 s) before escalating to kill").
//
// This package wires golang.org/x/sys/unix directly: a SIGTERM to the whole
// process group gives the encoder a chance to flush and exit cleanly
// before the grace period elapses, escalating to SIGKILL only after.
package procutil

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Grace is the fixed delay between SIGTERM and SIGKILL escalation (spec
// §5: "waits up to a fixed grace (5 s)").
const Grace = 5 * time.Second

// Setpgid configures cmd to run in its own process group, so Terminate can
// signal the encoder and any children it spawns together.
func Setpgid(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Terminate sends SIGTERM to cmd's process group, then escalates to
// SIGKILL if the process has not exited within Grace. done must close (or
// be closed already) once cmd.Wait returns, so Terminate does not
// needlessly wait out the full grace period for a process that already
// exited.
func Terminate(cmd *exec.Cmd, done <-chan struct{}) {
	pid := cmd.Process.Pid
	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(Grace):
	}

	_ = unix.Kill(-pid, unix.SIGKILL)
}
