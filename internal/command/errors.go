package command

import "fmt"

// NonRecoverable wraps an invariant or external-subsystem failure the
// process cannot continue past. The dispatcher lets it propagate as a
// panic.
type NonRecoverable struct {
	cause error
}

func (e *NonRecoverable) Error() string { return fmt.Sprintf("non-recoverable: %v", e.cause) }
func (e *NonRecoverable) Unwrap() error { return e.cause }

func nonRecoverable(format string, args ...any) error {
	return &NonRecoverable{cause: fmt.Errorf(format, args...)}
}

// ProtocolViolation wraps a syntactically or semantically ill-formed
// exchange with the OBC: wrong length, unknown opcode, a missing
// referenced artifact, CRC-retry exhaustion, or a missing integrity ack.
// The dispatcher logs it and continues.
type ProtocolViolation struct {
	cause error
}

func (e *ProtocolViolation) Error() string { return fmt.Sprintf("protocol violation: %v", e.cause) }
func (e *ProtocolViolation) Unwrap() error { return e.cause }

func protocolViolation(format string, args ...any) error {
	return &ProtocolViolation{cause: fmt.Errorf(format, args...)}
}

// External wraps a link-layer failure on an otherwise well-formed
// exchange (e.g. ErrPacketInvalid from ReceiveMultiPacket). The dispatcher
// logs it and continues.
type External struct {
	cause error
}

func (e *External) Error() string { return fmt.Sprintf("external: %v", e.cause) }
func (e *External) Unwrap() error { return e.cause }

func external(format string, args ...any) error {
	return &External{cause: fmt.Errorf(format, args...)}
}
