// Package callistoerr implements the engine's error taxonomy: a handful
// of typed errors the top-level command dispatcher discriminates with
// errors.As, each carrying a message formatted with
// golang.org/x/xerrors.
package callistoerr

import "golang.org/x/xerrors"

// ConfigError: malformed configuration, unknown build symbol, or an
// invariant violation (patch/module path collision, duplicate patch, ...).
// Surfaced directly; aborts with exit 2.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: xerrors.Errorf(format, args...).Error()}
}

// ResourceNotFoundError: a configured input file is missing.
type ResourceNotFoundError struct {
	Message string
}

func (e *ResourceNotFoundError) Error() string { return e.Message }

func NewResourceNotFoundError(format string, args ...interface{}) *ResourceNotFoundError {
	return &ResourceNotFoundError{Message: xerrors.Errorf(format, args...).Error()}
}

// ToolNotFoundError: an external tool's executable (assembler, BPS
// patcher, ROM editor) is missing.
type ToolNotFoundError struct {
	Message string
}

func (e *ToolNotFoundError) Error() string { return e.Message }

func NewToolNotFoundError(format string, args ...interface{}) *ToolNotFoundError {
	return &ToolNotFoundError{Message: xerrors.Errorf(format, args...).Error()}
}

// InsertionFailedError: an insertion step's external tool returned
// non-zero, or the assembler reported errors. Message carries the
// aggregated tool output.
type InsertionFailedError struct {
	Message string
	Cause   error
}

func (e *InsertionFailedError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *InsertionFailedError) Unwrap() error { return e.Cause }

func NewInsertionFailedError(format string, args ...interface{}) *InsertionFailedError {
	return &InsertionFailedError{Message: xerrors.Errorf(format, args...).Error()}
}

// MustRebuildError is the internal control signal the Quick-Builder raises
// on any rebuild-escalation condition; the top level catches it and
// invokes the Rebuilder.
type MustRebuildError struct {
	Reason string
}

func (e *MustRebuildError) Error() string { return e.Reason }

func NewMustRebuildError(format string, args ...interface{}) *MustRebuildError {
	return &MustRebuildError{Reason: xerrors.Errorf(format, args...).Error()}
}

// NoDependencyReportError: an insertion produced no side-channel
// dependency file. Caught inside the build loop; the build continues and
// the Build Report is deleted at the end.
type NoDependencyReportError struct {
	Message string
}

func (e *NoDependencyReportError) Error() string { return e.Message }

func NewNoDependencyReportError(format string, args ...interface{}) *NoDependencyReportError {
	return &NoDependencyReportError{Message: xerrors.Errorf(format, args...).Error()}
}
