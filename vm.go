package shipvm

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/jamesgraves/shipvm/limiter"
)

const (
	exportMemory      = "memory"
	exportSystemState = "SYSTEM_STATE"
	exportTickShip    = "export_tick_ship"
	exportDeleteShip  = "export_delete_ship"
	exportResetGas    = "reset_gas"
)

// WasmVm owns one team's compiled-and-instantiated guest module: the
// wazero runtime that backs it, its linear memory, the SYSTEM_STATE
// pointer read once at load, and the three exported functions every
// tick and teardown go through. A WasmVm is created once per team and
// shared (by reference, not copy) across that team's ShipControllers —
// callers must never retain a memory view across a call to one of the
// function handles below.
type WasmVm struct {
	ctx    context.Context
	rt     wazero.Runtime
	mod    api.Module
	memory api.Memory

	systemStatePtr uint32

	tickShipFn   api.Function
	deleteShipFn api.Function
	resetGasFn   api.Function
}

// CreateVm rewrites (for Code.Wasm) or accepts as-is (for
// Code.Precompiled, when WithPrecompileSupport is set) the given code,
// instantiates it, and resolves every required export. Code.None,
// Code.Source, and Code.Builtin are not directly runnable here: Source
// must first pass CheckSource and compilation upstream, Builtin must
// first be resolved through the builtin registry, and None has nothing
// to run.
func CreateVm(ctx context.Context, code Code, cfg *config) (*WasmVm, error) {
	var wasmBytes []byte

	switch code.Kind {
	case CodeWasm:
		rewritten, err := limiter.Rewrite(code.Wasm)
		if err != nil {
			return nil, wrapError(ErrModuleValidation, err, "gas instrumentation rejected module")
		}
		wasmBytes = rewritten
	case CodePrecompiled:
		if !cfg.allowPrecomp {
			return nil, newError(ErrModuleValidation, "precompiled code submitted without WithPrecompileSupport")
		}
		wasmBytes = code.Precompiled
	case CodeNone:
		return nil, newError(ErrModuleValidation, "cannot instantiate Code.None")
	case CodeSource:
		return nil, newError(ErrModuleValidation, "cannot instantiate raw Code.Source, it must be compiled first")
	case CodeBuiltin:
		return nil, newError(ErrModuleValidation, "cannot instantiate Code.Builtin directly, resolve it via the builtin registry first")
	default:
		return nil, newError(ErrModuleValidation, "unknown code kind %d", code.Kind)
	}

	rtCfg := wazero.NewRuntimeConfig()
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if err := registerHostImports(ctx, rt, cfg.useWASI); err != nil {
		rt.Close(ctx)
		return nil, wrapError(ErrInstantiation, err, "failed to register host imports")
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, wrapError(ErrModuleValidation, err, "engine rejected module bytes")
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		rt.Close(ctx)
		return nil, wrapError(ErrInstantiation, err, "failed to instantiate module")
	}

	vm := &WasmVm{ctx: ctx, rt: rt, mod: mod}

	vm.memory = mod.Memory()
	if vm.memory == nil {
		rt.Close(ctx)
		return nil, newError(ErrMissingExport, "module has no %q export", exportMemory)
	}

	ssGlobal := mod.ExportedGlobal(exportSystemState)
	if ssGlobal == nil {
		rt.Close(ctx)
		return nil, newError(ErrMissingExport, "module has no %q global", exportSystemState)
	}
	vm.systemStatePtr = uint32(ssGlobal.Get())

	vm.tickShipFn = mod.ExportedFunction(exportTickShip)
	vm.deleteShipFn = mod.ExportedFunction(exportDeleteShip)
	vm.resetGasFn = mod.ExportedFunction(exportResetGas)

	missing := vm.missingExport()
	if missing != "" {
		rt.Close(ctx)
		return nil, newError(ErrMissingExport, "module has no %q export", missing)
	}

	return vm, nil
}

func (v *WasmVm) missingExport() string {
	switch {
	case v.tickShipFn == nil:
		return exportTickShip
	case v.deleteShipFn == nil:
		return exportDeleteShip
	case v.resetGasFn == nil:
		return exportResetGas
	default:
		return ""
	}
}

// Close releases the runtime and every resource owned by it (compiled
// module, instance, memory). Call once, from the team, after every
// ShipController referencing this VM has been torn down.
func (v *WasmVm) Close() error {
	return v.rt.Close(v.ctx)
}

// ResetGas calls reset_gas(amount), which the instrumented module uses
// to reinitialize its gas counter before the next export_tick_ship call.
func (v *WasmVm) ResetGas(amount int32) error {
	_, err := v.resetGasFn.Call(v.ctx, api.EncodeI32(amount))
	if err != nil {
		return wrapError(ErrShipRuntime, err, "reset_gas trapped")
	}
	return nil
}

// TickShip calls export_tick_ship(index). A non-nil error means the
// guest trapped (gas exhaustion, illegal instruction, out-of-bounds
// access) and the caller should explode the ship rather than propagate
// the failure to other ships on the team.
func (v *WasmVm) TickShip(index uint32) error {
	_, err := v.tickShipFn.Call(v.ctx, api.EncodeI32(int32(index)))
	if err != nil {
		return wrapError(ErrShipRuntime, err, "export_tick_ship trapped")
	}
	return nil
}

// DeleteShip calls export_delete_ship(index) so the guest can release
// any per-ship bookkeeping it keeps keyed by index.
func (v *WasmVm) DeleteShip(index uint32) error {
	_, err := v.deleteShipFn.Call(v.ctx, api.EncodeI32(int32(index)))
	if err != nil {
		return wrapError(ErrShipRuntime, err, "export_delete_ship trapped")
	}
	return nil
}

// WriteSystemState writes state's SystemStateSize doubles into guest
// memory at the cached SYSTEM_STATE pointer. The write must complete,
// and the caller must not retain any prior view, before the next guest
// call.
func (v *WasmVm) WriteSystemState(state *LocalSystemState) error {
	slots := state.Slots()
	buf := make([]byte, 0, SystemStateSize*8)
	for _, f := range slots {
		buf = appendFloat64LE(buf, f)
	}
	if !v.memory.Write(v.systemStatePtr, buf) {
		return newError(ErrMemoryMarshal, "failed to write SYSTEM_STATE (%d bytes) at ptr=%d", len(buf), v.systemStatePtr)
	}
	return nil
}

// ReadSystemState copies SystemStateSize doubles back from guest
// memory at SYSTEM_STATE into state, overwriting every slot.
func (v *WasmVm) ReadSystemState(state *LocalSystemState) error {
	const want = SystemStateSize * 8
	view, ok := v.memory.Read(v.systemStatePtr, uint32(want))
	if !ok {
		return newError(ErrMemoryMarshal, "failed to read SYSTEM_STATE (%d bytes) at ptr=%d", want, v.systemStatePtr)
	}
	slots := state.Slots()
	for i := range slots {
		slots[i] = readFloat64LE(view[i*8 : i*8+8])
	}
	return nil
}

// ReadBytes copies length bytes from guest memory at ptr. The returned
// slice is a copy: wazero's Memory.Read view is only valid until the
// next guest call, and debug-output decoding always happens after the
// tick call that produced it.
func (v *WasmVm) ReadBytes(ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	view, ok := v.memory.Read(ptr, length)
	if !ok {
		return nil, newError(ErrMemoryMarshal, "failed to read %d bytes at ptr=%d", length, ptr)
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

func appendFloat64LE(buf []byte, f float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...)
}

func readFloat64LE(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
