package shipvm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrorKind classifies a shipvm.Error, mirroring the error taxonomy that
// distinguishes "the team's code cannot run" failures from "this one
// ship's tick trapped" failures.
type ErrorKind int

const (
	// ErrSanitizerRejection means submitted source text was rejected before
	// ever reaching the compiler collaborator.
	ErrSanitizerRejection ErrorKind = iota
	// ErrModuleValidation means the limiter or the engine refused the
	// module's bytecode.
	ErrModuleValidation
	// ErrMissingExport means an instantiated module lacks a required
	// export (memory, SYSTEM_STATE, export_tick_ship, export_delete_ship,
	// reset_gas).
	ErrMissingExport
	// ErrInstantiation means the engine failed to create the instance.
	ErrInstantiation
	// ErrShipRuntime means a trap occurred during export_tick_ship or
	// reset_gas for one ship.
	ErrShipRuntime
	// ErrMemoryMarshal means a read or write against guest linear memory
	// failed (out-of-bounds pointer, short buffer).
	ErrMemoryMarshal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSanitizerRejection:
		return "SanitizerRejection"
	case ErrModuleValidation:
		return "ModuleValidation"
	case ErrMissingExport:
		return "MissingExport"
	case ErrInstantiation:
		return "Instantiation"
	case ErrShipRuntime:
		return "ShipRuntime"
	case ErrMemoryMarshal:
		return "MemoryMarshal"
	default:
		return "Unknown"
	}
}

// Error is the core's single error type. Kind lets callers branch on the
// failure category (errors.As) instead of string-matching messages.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeKind tags the variant held by a Code value.
type CodeKind int

const (
	CodeNone CodeKind = iota
	CodeSource
	CodeWasm
	CodePrecompiled
	CodeBuiltin
)

// Code is the tagged union of everything a team's program can be, from
// "nothing submitted yet" through to engine-ready bytes. Only Wasm and
// Precompiled are accepted by CreateVm; NewTeamController also accepts
// Builtin, which it resolves to one of those through the builtin registry.
type Code struct {
	Kind        CodeKind
	Source      string
	Wasm        []byte
	Precompiled []byte
	BuiltinName string
}

func NewCodeNone() Code                { return Code{Kind: CodeNone} }
func NewCodeSource(text string) Code   { return Code{Kind: CodeSource, Source: text} }
func NewCodeWasm(bytes []byte) Code    { return Code{Kind: CodeWasm, Wasm: bytes} }
func NewCodePrecompiled(b []byte) Code { return Code{Kind: CodePrecompiled, Precompiled: b} }
func NewCodeBuiltin(name string) Code  { return Code{Kind: CodeBuiltin, BuiltinName: name} }

// ShipHandle is an opaque (index, generation) pair identifying a ship
// within a Simulation. Only Index participates in ordering.
type ShipHandle struct {
	Index      uint32
	Generation uint32
}

// Less orders handles by raw index, which is the core's deterministic
// per-tick iteration order.
func (h ShipHandle) Less(other ShipHandle) bool {
	return h.Index < other.Index
}

// Option configures a TeamController at construction time.
type Option func(*config)

type config struct {
	gasPerTick   int32
	useWASI      bool
	allowPrecomp bool
	logger       *logrus.Logger
}

func defaultConfig() *config {
	return &config{
		gasPerTick: GasPerTick,
		logger:     logrus.StandardLogger(),
	}
}

// WithGasPerTick overrides the default per-tick gas budget. Intended for
// tests that want to force exhaustion quickly.
func WithGasPerTick(gas int32) Option {
	return func(c *config) { c.gasPerTick = gas }
}

// WithWASIPreview1 instantiates wasi_snapshot_preview1 host imports before
// loading the guest module, for guest toolchains that target
// wasm32-wasi even though the guest ABI itself needs no host imports.
func WithWASIPreview1() Option {
	return func(c *config) { c.useWASI = true }
}

// WithPrecompileSupport allows Code.Precompiled modules to be loaded
// without the limiter rewrite (which must already have been applied when
// the module was precompiled). The bytes are compiled by the engine as
// ordinary WebAssembly; no serialized engine format is read.
func WithPrecompileSupport() Option {
	return func(c *config) { c.allowPrecomp = true }
}

// WithLogger overrides the logger used for tick-failure and lifecycle
// messages. Defaults to logrus's standard logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}
