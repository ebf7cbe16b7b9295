// Package supervisor implements the minimal re-forking parent process
// of §6: it marks itself a subreaper, execs the engine as a child,
// and sends every (pid, status) pair it reaps - both the engine's own
// exit and any orphaned container task reparented to it - onto the
// Reaped channel. Reaped is an in-process Go channel, so the pairs stay
// in the supervisor process and do not reach the engine child; the
// start command only logs them. Grounded on the original's
// portod.cpp master/slave split, expressed with os/exec and
// golang.org/x/sys/unix's prctl/wait4 instead of the original's raw
// fork(2).
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/config"
	"github.com/cuemby/portod/pkg/log"
)

// ReapedChild is one (pid, status) pair observed by wait4, sent on
// Supervisor.Reaped.
type ReapedChild struct {
	Pid    int
	Status int
}

// Supervisor owns the engine child process and the reap-notification
// channel fed by its wait loop.
type Supervisor struct {
	cfg     config.Config
	args    []string
	Reaped  chan ReapedChild
	stop    chan struct{}
}

// New builds a Supervisor that will exec the current binary with args
// (typically {"daemon", "--norespawn"}) as its engine child.
func New(cfg config.Config, args []string) *Supervisor {
	return &Supervisor{cfg: cfg, args: args, Reaped: make(chan ReapedChild, 64), stop: make(chan struct{})}
}

// Run marks the process a subreaper, spawns the engine, and loops
// restarting it on crash (unless NoRespawn) until Stop is called,
// forwarding every reaped pid/status pair onto Reaped.
func (s *Supervisor) Run() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_CHILD_SUBREAPER): %w", err)
	}

	for {
		select {
		case <-s.stop:
			return nil
		default:
		}

		pid, err := s.spawnEngine()
		if err != nil {
			return fmt.Errorf("spawn engine: %w", err)
		}

		status := s.waitFor(pid)
		s.Reaped <- ReapedChild{Pid: pid, Status: status}

		if s.cfg.NoRespawn {
			return nil
		}
		log.Warn(fmt.Sprintf("engine pid %d exited status %d, respawning", pid, status))
		time.Sleep(time.Second)
	}
}

// Stop requests Run's loop to exit after the current engine generation
// finishes.
func (s *Supervisor) Stop() { close(s.stop) }

func (s *Supervisor) spawnEngine() (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(self, s.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// waitFor blocks until pid exits, reaping any other orphaned child
// along the way (the subreaper role), returning pid's own exit status.
func (s *Supervisor) waitFor(pid int) int {
	for {
		var ws unix.WaitStatus
		reaped, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return -1
		}
		if reaped == pid {
			return ws.ExitStatus()
		}
		s.Reaped <- ReapedChild{Pid: reaped, Status: ws.ExitStatus()}
	}
}
