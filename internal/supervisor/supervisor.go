// Package supervisor owns one student-program execution end to end: it
// launches the interpreter, enforces the caller's wall-clock timeout,
// collects the exit status, packs the result archive, and enqueues the
// resulting events. It follows this repository's earlier watcher
// components in shape — a goroutine-backed component with a Start/Join
// lifecycle reporting through a shared state handle — generalised here
// from host-wide event monitoring to owning a single spawned child.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spaceteam/edu-scheduler/internal/archive"
	"github.com/spaceteam/edu-scheduler/internal/eventqueue"
	"github.com/spaceteam/edu-scheduler/internal/model"
	"github.com/spaceteam/edu-scheduler/internal/synclog"
)

// KillGracePeriod is how long the supervisor waits for a killed child to
// actually exit before treating the situation as non-recoverable.
const KillGracePeriod = 200 * time.Millisecond

// childWaitInterval is how long each iteration of the timeout loop waits
// for the child to exit before re-checking the stop signal.
const childWaitInterval = time.Second

// newCommand builds the child process command line. Tests substitute a
// stub interpreter so they do not depend on a real Python install.
var newCommand = func(timestamp model.Timestamp, dir string) *exec.Cmd {
	cmd := exec.Command("python", "main.py", fmt.Sprint(timestamp))
	cmd.Dir = dir
	return cmd
}

// Paths bundles the filesystem locations one execution touches.
type Paths struct {
	ArchiveDir   string // archives/<program_id>
	ResultFile   string // archives/<program_id>/results/<timestamp>
	StudentLog   string // data/<program_id>_<timestamp>.log
	BundleFile   string // data/<program_id>_<timestamp>
	SchedulerLog string // log
}

// Stopper is the subset of shared state the supervisor needs to poll for a
// stop request.
type Stopper interface {
	ShouldKeepRunning() bool
}

// Supervisor owns one spawned student process.
type Supervisor struct {
	programID model.ProgramID
	timestamp model.Timestamp
	timeout   int

	paths  Paths
	queue  *eventqueue.Queue
	stop   Stopper
	log    *synclog.Handler
	logger *slog.Logger

	cmd      *exec.Cmd
	done     chan struct{}
	waitErr  error
	panicErr error
}

// Start launches `python main.py <timestamp>` with its working directory
// set to paths.ArchiveDir, standard output and standard error redirected
// to paths.StudentLog, and begins the timeout/outcome goroutine. The
// caller is expected to record the returned Supervisor in shared state
// immediately.
func Start(
	programID model.ProgramID,
	timestamp model.Timestamp,
	timeoutSeconds int,
	paths Paths,
	queue *eventqueue.Queue,
	stop Stopper,
	log *synclog.Handler,
	logger *slog.Logger,
) (*Supervisor, error) {
	logFile, err := os.OpenFile(paths.StudentLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open student log: %w", err)
	}

	cmd := newCommand(timestamp, paths.ArchiveDir)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("supervisor: start child: %w", err)
	}

	s := &Supervisor{
		programID: programID,
		timestamp: timestamp,
		timeout:   timeoutSeconds,
		paths:     paths,
		queue:     queue,
		stop:      stop,
		log:       log,
		logger:    logger,
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	go func() {
		defer logFile.Close()
		s.run()
	}()

	return s, nil
}

// run executes the timeout loop, builds the result archive, and enqueues
// the execution's events. It recovers a panic from the non-recoverable
// kill-grace-period failure so Join can propagate it to its caller, per
// the requirement that the stop handler's join surface a supervisor
// panic.
func (s *Supervisor) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.panicErr = fmt.Errorf("supervisor: %v", r)
		}
	}()

	exitCode := s.waitWithTimeout()

	status := model.ProgramStatus{
		ProgramID: s.programID,
		Timestamp: s.timestamp,
		ExitCode:  exitCode,
	}
	result := model.ResultID{ProgramID: s.programID, Timestamp: s.timestamp}

	if err := s.buildBundle(); err != nil {
		s.logger.Error("result archive construction failed",
			slog.Int("program_id", int(s.programID)), slog.Any("error", err))
	}

	if err := s.queue.AppendExecutionOutcome(status, result); err != nil {
		s.logger.Error("failed to enqueue execution outcome",
			slog.Int("program_id", int(s.programID)), slog.Any("error", err))
	}
}

// waitWithTimeout waits for the child to exit, polling the stop signal
// between one-second waits, for up to s.timeout iterations. It returns the
// effective exit code: the child's own code on a normal exit, or
// model.ExitKilled for a timeout, a stop request, or a non-normal exit.
func (s *Supervisor) waitWithTimeout() model.ExitCode {
	exited := make(chan struct{})
	go func() {
		s.waitErr = s.cmd.Wait()
		close(exited)
	}()

	for i := 0; i < s.timeout; i++ {
		select {
		case <-exited:
			return s.exitCodeFromWait()
		case <-time.After(childWaitInterval):
		}
		if !s.stop.ShouldKeepRunning() {
			return s.killAndReturn(exited)
		}
	}
	return s.killAndReturn(exited)
}

func (s *Supervisor) exitCodeFromWait() model.ExitCode {
	var exitErr *exec.ExitError
	switch {
	case s.waitErr == nil, errors.As(s.waitErr, &exitErr):
		code := s.cmd.ProcessState.ExitCode()
		if code < 0 || code > 255 {
			return model.ExitKilled
		}
		return model.ExitCode(code)
	default:
		return model.ExitKilled
	}
}

// killAndReturn sends the child a kill signal and waits up to
// KillGracePeriod for the exited channel to close. A child that survives
// the grace period is a non-recoverable condition.
func (s *Supervisor) killAndReturn(exited <-chan struct{}) model.ExitCode {
	select {
	case <-exited:
		return s.exitCodeFromWait()
	default:
	}

	_ = s.cmd.Process.Kill()

	select {
	case <-exited:
		return model.ExitKilled
	case <-time.After(KillGracePeriod):
		panic(fmt.Sprintf("supervisor: child pid %d did not die within kill grace period", s.cmd.Process.Pid))
	}
}

// buildBundle constructs the result archive and deletes the source files
// once it has been written, per the archive construction contract.
func (s *Supervisor) buildBundle() error {
	b := archive.NewBuilder()

	entryName := fmt.Sprintf("%d_%d", s.programID, s.timestamp)
	if err := b.AddFileIfExists(entryName, s.paths.ResultFile, false); err != nil {
		return err
	}
	if err := b.AddFileIfExists("student_log", s.paths.StudentLog, true); err != nil {
		return err
	}
	if err := b.AddFileIfExists("log", s.paths.SchedulerLog, true); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.paths.BundleFile), 0o755); err != nil {
		return fmt.Errorf("supervisor: mkdir for bundle: %w", err)
	}
	if err := b.WriteFile(s.paths.BundleFile); err != nil {
		return fmt.Errorf("supervisor: write bundle: %w", err)
	}

	_ = os.Remove(s.paths.ResultFile)
	_ = os.Remove(s.paths.StudentLog)
	if err := s.log.Truncate(); err != nil {
		return fmt.Errorf("supervisor: truncate scheduler log: %w", err)
	}
	return nil
}

// Finished implements state.Supervisor.
func (s *Supervisor) Finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Join implements state.Supervisor: it blocks until the run goroutine has
// finished, propagating any recovered panic as an error.
func (s *Supervisor) Join() error {
	<-s.done
	return s.panicErr
}
