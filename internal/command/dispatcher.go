// Package command implements the command dispatcher and its six handlers:
// it reads one framed command from the link, parses the opcode and body,
// and invokes the matching handler, classifying every failure into the
// three error buckets the process acts on (NonRecoverable, ProtocolViolation,
// External).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spaceteam/edu-scheduler/internal/cep"
	"github.com/spaceteam/edu-scheduler/internal/hosttime"
	"github.com/spaceteam/edu-scheduler/internal/link"
	"github.com/spaceteam/edu-scheduler/internal/model"
	"github.com/spaceteam/edu-scheduler/internal/state"
	"github.com/spaceteam/edu-scheduler/internal/synclog"
)

// archiveTransferTimeout bounds how long the Store Archive handler waits
// for each packet of the incoming ZIP payload. It stands in for the
// "unlimited" per-command wait: once a transfer is underway the OBC is
// expected to keep sending, but a wedged link still has to give up
// eventually rather than hang the dispatcher forever.
const archiveTransferTimeout = 5 * time.Minute

// stopPollInterval and stopPollAttempts bound the Stop Program handler's
// wait for a running supervisor to notice the stop signal: 20 * 100ms = 2s.
const (
	stopPollInterval = 100 * time.Millisecond
	stopPollAttempts = 20
)

// Dispatcher owns the serial link and the shared state, and runs the
// command loop.
type Dispatcher struct {
	link    *link.Link
	state   *state.SharedState
	clock   hosttime.Setter
	log     *synclog.Handler
	logger  *slog.Logger
	baseDir string
}

// New returns a Dispatcher reading commands from l, operating on st, using
// clock to service Update Time, and rooted at baseDir (which must already
// contain archives/ and data/).
func New(l *link.Link, st *state.SharedState, clock hosttime.Setter, log *synclog.Handler, logger *slog.Logger, baseDir string) *Dispatcher {
	return &Dispatcher{link: l, state: st, clock: clock, log: log, logger: logger, baseDir: baseDir}
}

func (d *Dispatcher) archiveDir(programID model.ProgramID) string {
	return filepath.Join(d.baseDir, "archives", fmt.Sprint(programID))
}

func (d *Dispatcher) resultFile(programID model.ProgramID, timestamp model.Timestamp) string {
	return filepath.Join(d.archiveDir(programID), "results", fmt.Sprint(timestamp))
}

func (d *Dispatcher) studentLog(programID model.ProgramID, timestamp model.Timestamp) string {
	return filepath.Join(d.baseDir, "data", fmt.Sprintf("%d_%d.log", programID, timestamp))
}

func (d *Dispatcher) bundleFile(programID model.ProgramID, timestamp model.Timestamp) string {
	return filepath.Join(d.baseDir, "data", fmt.Sprintf("%d_%d", programID, timestamp))
}

// Run executes the dispatch loop until ctx is cancelled. A NonRecoverable
// error is re-raised as a panic, matching the process's "never exits
// voluntarily, except by power-cycle after a panic" contract; callers that
// need to survive the panic for tests should recover around Run.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.dispatchOnce(); err != nil {
			d.handleError(err)
		}
	}
}

func (d *Dispatcher) handleError(err error) {
	var nr *NonRecoverable
	if errors.As(err, &nr) {
		d.logger.Error("non-recoverable error, payload will power-cycle", slog.Any("error", err))
		panic(err)
	}
	var pv *ProtocolViolation
	if errors.As(err, &pv) {
		d.logger.Warn("protocol violation", slog.Any("error", err))
		return
	}
	var ext *External
	if errors.As(err, &ext) {
		d.logger.Warn("external error", slog.Any("error", err))
		return
	}
	d.logger.Error("unclassified command error", slog.Any("error", err))
}

// dispatchOnce blocks for one command, handles it to completion, and
// returns any classified error encountered along the way.
func (d *Dispatcher) dispatchOnce() error {
	frame, err := d.link.ReceivePacket(link.UnlimitedTimeout)
	if err != nil {
		return external("receive command: %w", err)
	}

	if frame.Kind != cep.KindData || len(frame.Payload) == 0 {
		_ = d.link.SendPacket(cep.Nack())
		return protocolViolation("expected a non-empty Data frame, got %s", frame.Kind)
	}

	opcode := frame.Payload[0]
	entry, ok := opcodeTable[opcode]
	if !ok {
		_ = d.link.SendPacket(cep.Nack())
		return protocolViolation("unknown opcode 0x%02x", opcode)
	}
	if len(frame.Payload) != entry.bodyLen {
		_ = d.link.SendPacket(cep.Nack())
		return protocolViolation("opcode 0x%02x: want body length %d, got %d", opcode, entry.bodyLen, len(frame.Payload))
	}

	return entry.handle(d, frame.Payload)
}

// terminateRunning is the internal "terminate student program" routine
// shared by the Stop Program handler and the Execute Program handler's
// preemption step.
func (d *Dispatcher) terminateRunning() error {
	sup, ok := d.state.CurrentSupervisor()
	if !ok {
		return nil
	}
	d.state.RequestStop()

	for i := 0; i < stopPollAttempts; i++ {
		time.Sleep(stopPollInterval)
		if sup.Finished() {
			if err := sup.Join(); err != nil {
				return nonRecoverable("supervisor panicked: %w", err)
			}
			d.state.ClearSupervisor()
			return nil
		}
	}
	return nonRecoverable("supervisor did not terminate within %s", stopPollInterval*stopPollAttempts)
}
