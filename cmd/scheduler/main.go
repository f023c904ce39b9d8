// Command scheduler is the payload scheduler process: it speaks the framed
// serial protocol to the onboard computer, dispatches its six commands,
// supervises student program executions, and serves the local event
// socket and heartbeat line. It never exits voluntarily; a non-recoverable
// error panics so the OBC can power-cycle the payload.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spaceteam/edu-scheduler/internal/command"
	"github.com/spaceteam/edu-scheduler/internal/config"
	"github.com/spaceteam/edu-scheduler/internal/eventqueue"
	"github.com/spaceteam/edu-scheduler/internal/eventsocket"
	"github.com/spaceteam/edu-scheduler/internal/heartbeat"
	"github.com/spaceteam/edu-scheduler/internal/hosttime"
	"github.com/spaceteam/edu-scheduler/internal/ioline"
	"github.com/spaceteam/edu-scheduler/internal/link"
	"github.com/spaceteam/edu-scheduler/internal/serialport"
	"github.com/spaceteam/edu-scheduler/internal/state"
	"github.com/spaceteam/edu-scheduler/internal/synclog"
)

func main() {
	configPath := flag.String("config", "scheduler.conf", "path to the scheduler's key-value configuration file")
	baseDir := flag.String("dir", ".", "working directory: archives/, data/, events.db and log live here")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(*configPath, bootLogger)

	if err := os.MkdirAll(filepath.Join(*baseDir, "archives"), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: create archives dir: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Join(*baseDir, "data"), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: create data dir: %v\n", err)
		os.Exit(1)
	}

	logHandler, err := synclog.Open(filepath.Join(*baseDir, "log"), slog.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: open log: %v\n", err)
		os.Exit(1)
	}
	defer logHandler.Close()
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("payload scheduler starting",
		slog.String("uart", cfg.UART),
		slog.Int("baudrate", cfg.Baudrate),
		slog.String("socket", cfg.Socket),
	)

	dataReadyLine := openLine(cfg.UpdatePin, "data-ready", logger)
	hbLine := openLine(cfg.HeartbeatPin, "heartbeat", logger)

	queue, err := eventqueue.Open(filepath.Join(*baseDir, "events.db"), dataReadyLine)
	if err != nil {
		logger.Error("open event queue", slog.Any("error", err))
		panic(err)
	}
	defer queue.Close()

	hb := heartbeat.New(hbLine, cfg.HeartbeatFreq)

	sharedState := state.New(queue)

	socketListener, err := eventsocket.Listen(cfg.Socket, queue, logger)
	if err != nil {
		logger.Error("listen on event socket", slog.Any("error", err))
		panic(err)
	}
	defer socketListener.Close()

	port, err := serialport.Open(cfg.UART, cfg.Baudrate)
	if err != nil {
		logger.Error("open serial port", slog.Any("error", err))
		panic(err)
	}
	defer port.Close()

	dispatcher := command.New(link.New(port), sharedState, hosttime.Unix{}, logHandler, logger, *baseDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb.Start(ctx)
	defer hb.Stop()

	go socketListener.Run(ctx)

	dispatcher.Run(ctx) // blocks forever; returns only if ctx is cancelled
}

// openLine binds a numbered GPIO output, falling back to an in-memory
// simulated line (with a warning) when no GPIO hardware is present, e.g.
// during development off the target board.
func openLine(pin int, purpose string, logger *slog.Logger) ioline.Line {
	line, err := ioline.NewGPIO(pin)
	if err != nil {
		logger.Warn(purpose+" GPIO unavailable, falling back to a simulated line", slog.Any("error", err), slog.Int("pin", pin))
		return ioline.NewSim()
	}
	return line
}
