package shipvm

// builtins maps a name a team can reference via Code.Builtin to the
// Code it actually resolves to, mirroring the way a ship-AI preset
// name resolves to compiled bytes. "solid" is deliberately left
// unregistered: it documents that LoadBuiltin can legitimately miss, the way
// a preset name that doesn't exist yet would, without inventing game
// content out of scope for this core.
var builtins = map[string]Code{
	"idle": NewCodeWasm(idleModuleWasm),
}

// LoadBuiltin resolves name to the Code it stands for. It never
// recurses into another Code.Builtin itself — building that cycle
// detection is the caller's job if the registry ever grows names that
// alias each other.
func LoadBuiltin(name string) (Code, error) {
	code, ok := builtins[name]
	if !ok {
		return Code{}, newError(ErrModuleValidation, "no builtin registered under %q", name)
	}
	return code, nil
}

// idleModuleWasm is a minimal guest module that exports everything
// WasmVm.CreateVm requires but never writes a single command slot: its
// export_tick_ship and export_delete_ship bodies are both empty. It
// does not export its own reset_gas — limiter.Rewrite always appends
// one, and a module that already had one would collide with it — so
// this is the bare module handed to Rewrite, not the final Code.Wasm.
// It exists so Code.Builtin("idle") is runnable end to end without
// depending on any real ship program.
var idleModuleWasm = buildIdleModule()

func buildIdleModule() []byte {
	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6d) // magic "\0asm"
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version 1

	// Type section: one signature, (i32) -> (), shared by both
	// exported functions.
	typeSec := idleSection(idleByte(1), idleVec(idleByte(1), concatB(
		idleByte(0x60), idleVec(idleByte(1), idleByte(0x7f)), idleVec(idleByte(0), nil),
	)))
	out = append(out, typeSec...)

	// Function section: 2 functions, both of type index 0.
	funcSec := idleSection(idleByte(3), idleVec(idleByte(2), concatB(idleByte(0), idleByte(0))))
	out = append(out, funcSec...)

	// Memory section: one memory, 1 page minimum, no maximum.
	memSec := idleSection(idleByte(5), idleVec(idleByte(1), concatB(idleByte(0x00), uleb(1))))
	out = append(out, memSec...)

	// Global section: one immutable i32 global (SYSTEM_STATE), pointing
	// at linear memory offset 0. The idle module never reads or writes
	// that region, so where it points doesn't matter beyond being a
	// valid in-bounds offset.
	globalEntry := concatB(idleByte(0x7f), idleByte(0x00), idleByte(0x41), uleb(0), idleByte(0x0b))
	globalSec := idleSection(idleByte(6), idleVec(idleByte(1), globalEntry))
	out = append(out, globalSec...)

	// Export section: memory, SYSTEM_STATE, and the two tick/delete
	// functions. reset_gas is left to the rewriter.
	exports := concatB(
		idleExport("memory", 0x02, 0),
		idleExport("SYSTEM_STATE", 0x03, 0),
		idleExport(exportTickShip, 0x00, 0),
		idleExport(exportDeleteShip, 0x00, 1),
	)
	exportSec := idleSection(idleByte(7), idleVec(idleByte(4), exports))
	out = append(out, exportSec...)

	// Code section: two empty function bodies (no locals, a bare `end`).
	emptyBody := idleVec(idleByte(0), idleByte(0x0b)) // 0 local-decl groups, end
	emptyBodySized := concatB(uleb(uint64(len(emptyBody))), emptyBody)
	codeSec := idleSection(idleByte(10), idleVec(idleByte(2), concatB(emptyBodySized, emptyBodySized)))
	out = append(out, codeSec...)

	return out
}

func idleByte(b byte) []byte { return []byte{b} }

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func concatB(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// idleVec prefixes payload with its own count (already-encoded) — the
// vector shape every WASM section entry list uses.
func idleVec(count []byte, payload []byte) []byte {
	return concatB(count, payload)
}

// idleSection wraps payload with a section id byte and its own
// uleb128-encoded byte length.
func idleSection(id []byte, payload []byte) []byte {
	return concatB(id, uleb(uint64(len(payload))), payload)
}

func idleExport(name string, kind byte, index uint64) []byte {
	return concatB(uleb(uint64(len(name))), []byte(name), idleByte(kind), uleb(index))
}
