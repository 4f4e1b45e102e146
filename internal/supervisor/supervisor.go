// Package supervisor runs a graph of child processes to completion:
// each child gets its own process group, SIGINT/SIGTERM/SIGTSTP/
// SIGCONT/SIGTTIN/SIGTTOU are trapped and routed the way a vagga
// `_run` session handles them while several containers share one
// terminal, and a child exiting with supervise-mode "stop-on-failure"
// tears the whole group down (spec.md §4.J).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// SuperviseMode controls what a child's exit does to the rest of the
// group.
type SuperviseMode int

const (
	// Normal: this child exiting has no effect on its siblings.
	Normal SuperviseMode = iota
	// StopOnFailure: a non-zero exit from this child tears down every
	// other child in the group.
	StopOnFailure
)

// PrepareResult is what an Executor's Prepare returns before the
// supervisor decides whether to actually spawn its command.
type PrepareResult int

const (
	// Run spawns the executor's command normally.
	Run PrepareResult = iota
	// Shutdown aborts the whole supervisor run without spawning.
	Shutdown
)

// Executor is one supervised child process.
type Executor interface {
	// Name identifies this executor in logs.
	Name() string
	// Prepare runs immediately before spawning; returning Shutdown
	// aborts the run (e.g. a dependency container failed to build).
	Prepare() (PrepareResult, error)
	// Command builds the *exec.Cmd to run once Prepare allows it.
	Command() (*exec.Cmd, error)
	// Finish is called with the process's exit code (or -1 if it
	// never started) once it's reaped.
	Finish(exitCode int)
}

type child struct {
	executor Executor
	mode     SuperviseMode

	mu      sync.Mutex
	cmd     *exec.Cmd
	pgid    int
	started bool
}

func (c *child) signalGroup(sig syscall.Signal) {
	c.mu.Lock()
	pgid := c.pgid
	started := c.started
	c.mu.Unlock()
	if started && pgid > 0 {
		_ = syscall.Kill(-pgid, sig)
	}
}

// Monitor drives a fixed set of executors to completion.
type Monitor struct {
	// KillUnresponsiveAfter bounds how long a child gets to exit after
	// SIGTERM before the monitor escalates to SIGKILL. Zero means
	// never escalate.
	KillUnresponsiveAfter time.Duration

	mu       sync.Mutex
	children []*child

	shutdownOnce sync.Once
	shuttingDown chan struct{}

	resultMu sync.Mutex
	exitCode int
	sawExit  bool
}

func New() *Monitor {
	return &Monitor{shuttingDown: make(chan struct{})}
}

// Add registers an executor to be started when Run begins.
func (m *Monitor) Add(e Executor, mode SuperviseMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = append(m.children, &child{executor: e, mode: mode})
}

// Run starts every registered executor, each in its own process group,
// waits for all of them to exit (or for a stop-on-failure child or an
// incoming termination signal to trigger a coordinated shutdown), and
// returns the process's exit code: the first non-zero child exit
// code, or 128+signal if a termination signal drove the shutdown.
func (m *Monitor) Run(ctx context.Context) (int, error) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP,
		syscall.SIGCONT, syscall.SIGTTIN, syscall.SIGTTOU)
	defer signal.Stop(sigCh)

	go m.signalLoop(sigCh)

	var g errgroup.Group
	for _, c := range m.children {
		c := c
		g.Go(func() error {
			m.runOne(ctx, c)
			return nil
		})
	}
	g.Wait()

	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	return m.exitCode, nil
}

func (m *Monitor) signalLoop(sigCh <-chan os.Signal) {
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			m.handleSignal(sig)
		case <-m.shuttingDown:
			return
		}
	}
}

func (m *Monitor) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGINT:
		// Delivered to the whole foreground process group already;
		// nothing further to propagate.
	case syscall.SIGTERM:
		m.beginShutdown(128 + int(syscall.SIGTERM))
	case syscall.SIGTSTP:
		m.forEachChild(func(c *child) { c.signalGroup(syscall.SIGSTOP) })
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGSTOP)
	case syscall.SIGCONT:
		m.forEachChild(func(c *child) { c.signalGroup(syscall.SIGCONT) })
	case syscall.SIGTTIN, syscall.SIGTTOU:
		m.donateTerminal()
	}
}

// donateTerminal is the response to SIGTTIN/SIGTTOU: it hands the
// controlling terminal to each started child's process group in turn
// and sends each SIGCONT, so the last started child in the list ends
// up holding the terminal. It does nothing when stdin is not a
// terminal.
func (m *Monitor) donateTerminal() {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	m.forEachChild(func(c *child) {
		c.mu.Lock()
		pgid := c.pgid
		started := c.started
		c.mu.Unlock()
		if !started || pgid <= 0 {
			return
		}
		_ = unix.IoctlSetPointerInt(int(os.Stdin.Fd()), unix.TIOCSPGRP, pgid)
		c.signalGroup(syscall.SIGCONT)
	})
}

func (m *Monitor) forEachChild(fn func(*child)) {
	m.mu.Lock()
	children := append([]*child(nil), m.children...)
	m.mu.Unlock()
	for _, c := range children {
		fn(c)
	}
}

// beginShutdown sends SIGTERM to every running child once, escalating
// to SIGKILL after KillUnresponsiveAfter for anything still alive.
func (m *Monitor) beginShutdown(code int) {
	m.shutdownOnce.Do(func() {
		m.recordExit(code)
		close(m.shuttingDown)
		m.forEachChild(func(c *child) { c.signalGroup(syscall.SIGTERM) })
		if m.KillUnresponsiveAfter > 0 {
			time.AfterFunc(m.KillUnresponsiveAfter, func() {
				m.forEachChild(func(c *child) { c.signalGroup(syscall.SIGKILL) })
			})
		}
	})
}

func (m *Monitor) runOne(ctx context.Context, c *child) {
	result, err := c.executor.Prepare()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vagga: preparing %s: %v\n", c.executor.Name(), err)
		c.executor.Finish(-1)
		return
	}
	if result == Shutdown {
		c.executor.Finish(-1)
		return
	}

	cmd, err := c.executor.Command()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vagga: building command for %s: %v\n", c.executor.Name(), err)
		c.executor.Finish(-1)
		return
	}
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "vagga: starting %s: %v\n", c.executor.Name(), err)
		c.executor.Finish(-1)
		return
	}

	c.mu.Lock()
	c.cmd = cmd
	c.pgid = cmd.Process.Pid
	c.started = true
	c.mu.Unlock()

	err = cmd.Wait()
	code := exitCode(err)
	c.executor.Finish(code)

	if code != 0 {
		m.recordExit(code)
		if c.mode == StopOnFailure {
			m.beginShutdown(code)
		}
	}
}

// recordExit keeps only the first recorded exit code, whether it came
// from a failing child or from a termination signal — first one in
// wins, matching "first non-zero child exit, or 128+signal if
// interrupted".
func (m *Monitor) recordExit(code int) {
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	if m.sawExit {
		return
	}
	m.exitCode = code
	m.sawExit = true
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
