package command

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/spaceteam/edu-scheduler/internal/archive"
	"github.com/spaceteam/edu-scheduler/internal/cep"
	"github.com/spaceteam/edu-scheduler/internal/model"
	"github.com/spaceteam/edu-scheduler/internal/supervisor"
)

const (
	opStoreArchive   byte = 0x01
	opExecuteProgram byte = 0x02
	opStopProgram    byte = 0x03
	opGetStatus      byte = 0x04
	opReturnResult   byte = 0x05
	opUpdateTime     byte = 0x06
)

type opcodeEntry struct {
	bodyLen int
	handle  func(*Dispatcher, []byte) error
}

var opcodeTable = map[byte]opcodeEntry{
	opStoreArchive:   {bodyLen: 3, handle: (*Dispatcher).handleStoreArchive},
	opExecuteProgram: {bodyLen: 9, handle: (*Dispatcher).handleExecuteProgram},
	opStopProgram:    {bodyLen: 1, handle: (*Dispatcher).handleStopProgram},
	opGetStatus:      {bodyLen: 1, handle: (*Dispatcher).handleGetStatus},
	opReturnResult:   {bodyLen: 7, handle: (*Dispatcher).handleReturnResult},
	opUpdateTime:     {bodyLen: 5, handle: (*Dispatcher).handleUpdateTime},
}

// handleStoreArchive implements §4.4: receive the archive bytes as a
// multi-packet payload, stage them to a temporary file, and unpack that
// file as a ZIP into the program's archive directory.
func (d *Dispatcher) handleStoreArchive(payload []byte) error {
	programID := model.ProgramID(binary.LittleEndian.Uint16(payload[1:3]))

	data, err := d.link.ReceiveMultiPacket(archiveTransferTimeout)
	if err != nil {
		return external("store archive: receive payload: %w", err)
	}

	tempDir := filepath.Join(d.baseDir, "tmp")
	tempPath, err := archive.StageTemp(tempDir, data)
	if err != nil {
		return nonRecoverable("store archive: stage temp file: %w", err)
	}
	defer os.Remove(tempPath)

	if err := archive.UnpackZip(tempPath, d.archiveDir(programID)); err != nil {
		return nonRecoverable("store archive: unpack: %w", err)
	}

	if err := d.link.SendPacket(cep.Ack()); err != nil {
		return external("store archive: send ack: %w", err)
	}
	return nil
}

// handleExecuteProgram implements §4.5: preempt any running execution,
// verify the entry point exists, and hand off to a freshly spawned
// supervisor.
func (d *Dispatcher) handleExecuteProgram(payload []byte) error {
	if err := d.terminateRunning(); err != nil {
		return err
	}

	programID := model.ProgramID(binary.LittleEndian.Uint16(payload[1:3]))
	timestamp := model.Timestamp(binary.LittleEndian.Uint32(payload[3:7]))
	timeoutSeconds := binary.LittleEndian.Uint16(payload[7:9])

	mainPy := filepath.Join(d.archiveDir(programID), "main.py")
	if _, err := os.Stat(mainPy); err != nil {
		_ = d.link.SendPacket(cep.Nack())
		return protocolViolation("execute program: missing entry point %s: %w", mainPy, err)
	}

	paths := supervisor.Paths{
		ArchiveDir:   d.archiveDir(programID),
		ResultFile:   d.resultFile(programID, timestamp),
		StudentLog:   d.studentLog(programID, timestamp),
		BundleFile:   d.bundleFile(programID, timestamp),
		SchedulerLog: filepath.Join(d.baseDir, "log"),
	}
	if err := os.MkdirAll(filepath.Join(paths.ArchiveDir, "results"), 0o755); err != nil {
		return nonRecoverable("execute program: prepare results dir: %w", err)
	}

	sup, err := supervisor.Start(programID, timestamp, int(timeoutSeconds), paths, d.state.Queue, d.state, d.log, d.logger)
	if err != nil {
		return nonRecoverable("execute program: start supervisor: %w", err)
	}
	d.state.SetSupervisor(sup)

	if err := d.link.SendPacket(cep.Ack()); err != nil {
		return external("execute program: send ack: %w", err)
	}
	return nil
}

// handleStopProgram implements §4.7: run the shared termination routine,
// then acknowledge. A non-recoverable termination failure propagates
// without an Ack, matching the "no Ack on a non-recoverable outcome"
// pattern used throughout.
func (d *Dispatcher) handleStopProgram(_ []byte) error {
	if err := d.terminateRunning(); err != nil {
		return err
	}
	if err := d.link.SendPacket(cep.Ack()); err != nil {
		return external("stop program: send ack: %w", err)
	}
	return nil
}

// handleGetStatus implements §4.8: poll the event queue for the next
// event to report and reply with its encoded Data frame.
func (d *Dispatcher) handleGetStatus(_ []byte) error {
	event, ok, err := d.state.Queue.Poll()
	if err != nil {
		return nonRecoverable("get status: poll queue: %w", err)
	}

	frame, err := cep.NewData(encodeStatusPayload(event, ok))
	if err != nil {
		return nonRecoverable("get status: build reply frame: %w", err)
	}
	if err := d.link.SendPacket(frame); err != nil {
		return external("get status: send reply: %w", err)
	}
	return nil
}

func encodeStatusPayload(event model.Event, ok bool) []byte {
	if !ok {
		return []byte{0x00}
	}
	switch event.Kind {
	case model.EventStatus:
		buf := make([]byte, 8)
		buf[0] = 0x01
		binary.LittleEndian.PutUint16(buf[1:3], uint16(event.Status.ProgramID))
		binary.LittleEndian.PutUint32(buf[3:7], uint32(event.Status.Timestamp))
		buf[7] = byte(event.Status.ExitCode)
		return buf
	case model.EventResult:
		buf := make([]byte, 7)
		buf[0] = 0x02
		binary.LittleEndian.PutUint16(buf[1:3], uint16(event.Result.ProgramID))
		binary.LittleEndian.PutUint32(buf[3:7], uint32(event.Result.Timestamp))
		return buf
	case model.EventEnableDosimeter:
		return []byte{0x03}
	case model.EventDisableDosimeter:
		return []byte{0x04}
	default:
		return []byte{0x00}
	}
}

// handleReturnResult implements §4.6: send the bundle file as a
// multi-packet payload and, once its closing integrity ack lands, delete
// it and retire its queue entry.
func (d *Dispatcher) handleReturnResult(payload []byte) error {
	programID := model.ProgramID(binary.LittleEndian.Uint16(payload[1:3]))
	timestamp := model.Timestamp(binary.LittleEndian.Uint32(payload[3:7]))
	bundlePath := d.bundleFile(programID, timestamp)

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		_ = d.link.SendPacket(cep.Nack())
		return protocolViolation("return result: no bundle at %s: %w", bundlePath, err)
	}

	if err := d.link.SendMultiPacket(data); err != nil {
		return protocolViolation("return result: transfer not acknowledged, bundle retained: %w", err)
	}

	if err := os.Remove(bundlePath); err != nil {
		return nonRecoverable("return result: delete bundle: %w", err)
	}

	rid := model.ResultID{ProgramID: programID, Timestamp: timestamp}
	found, err := d.state.Queue.RemoveResult(rid)
	if err != nil {
		return nonRecoverable("return result: remove queue entry: %w", err)
	}
	if !found {
		d.logger.Warn("return result: no matching queue entry, self-healing",
			"program_id", programID, "timestamp", timestamp)
	}
	return nil
}

// handleUpdateTime implements §4.9: set the host clock to the given
// absolute instant.
func (d *Dispatcher) handleUpdateTime(payload []byte) error {
	seconds := int32(binary.LittleEndian.Uint32(payload[1:5]))
	if err := d.clock.SetTime(time.Unix(int64(seconds), 0).UTC()); err != nil {
		return nonRecoverable("update time: %w", err)
	}
	if err := d.link.SendPacket(cep.Ack()); err != nil {
		return external("update time: send ack: %w", err)
	}
	return nil
}
