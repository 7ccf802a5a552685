package limiter

import (
	"bytes"
	"fmt"
)

// Section ids, per the WebAssembly binary format.
const (
	secCustom   = byte(0)
	secType     = byte(1)
	secImport   = byte(2)
	secFunction = byte(3)
	secGlobal   = byte(6)
	secExport   = byte(7)
	secCode     = byte(10)
)

const (
	externKindFunc   = byte(0x00)
	valTypeI32       = byte(0x7F)
	funcTypeForm     = byte(0x60)
	mutabilityMut    = byte(0x01)
	gasCostPerCheck  = 1
	resetGasExport   = "reset_gas"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6D}

type section struct {
	id      byte
	payload []byte
}

// Rewrite instruments a WebAssembly module with gas-accounting calls at
// every function entry and loop re-entry point, and appends a
// self-contained reset_gas export the host calls once per tick to
// replenish the budget. It does not require any new host import: the
// gas counter lives in a module-private global the rewriter adds.
//
// Rewrite preserves observable behavior modulo gas exhaustion: a module
// that never takes a loop back-edge and calls no functions still
// consumes a small, bounded amount of gas at entry.
func Rewrite(wasm []byte) ([]byte, error) {
	if len(wasm) < 8 || !bytes.Equal(wasm[:4], wasmMagic) {
		return nil, fmt.Errorf("limiter: not a WebAssembly module")
	}
	version := wasm[4:8]

	sections, err := splitSections(wasm[8:])
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	numImportedFuncs := countImportedFuncs(findSection(sections, secImport))

	typeSec := findSection(sections, secType)
	numExistingTypes, typeEntries, err := vectorPrefix(typeSec)
	if err != nil {
		return nil, fmt.Errorf("limiter: type section: %w", err)
	}

	funcSec := findSection(sections, secFunction)
	numExistingFuncs, funcEntries, err := vectorPrefix(funcSec)
	if err != nil {
		return nil, fmt.Errorf("limiter: function section: %w", err)
	}

	globalSec := findSection(sections, secGlobal)
	numExistingGlobals, globalEntries, err := vectorPrefix(globalSec)
	if err != nil {
		return nil, fmt.Errorf("limiter: global section: %w", err)
	}

	exportSec := findSection(sections, secExport)
	numExistingExports, exportEntries, err := vectorPrefix(exportSec)
	if err != nil {
		return nil, fmt.Errorf("limiter: export section: %w", err)
	}

	codeSec := findSection(sections, secCode)
	bodies, err := splitCodeBodies(codeSec)
	if err != nil {
		return nil, fmt.Errorf("limiter: code section: %w", err)
	}
	if len(bodies) != int(numExistingFuncs) {
		return nil, fmt.Errorf("limiter: function/code section count mismatch (%d vs %d)", numExistingFuncs, len(bodies))
	}

	// Appended type indices: numExistingTypes = () -> (),
	// numExistingTypes+1 = (i32) -> ().
	voidTypeIdx := numExistingTypes
	i32TypeIdx := numExistingTypes + 1
	newTypes := append(append([]byte{}, funcType(nil)...), funcType([]byte{valTypeI32})...)

	// New function indices, in function-index-space order (imports first).
	gasCheckFuncIdx := uint64(numImportedFuncs) + numExistingFuncs
	resetGasFuncIdx := gasCheckFuncIdx + 1

	gasGlobalIdx := numExistingGlobals

	instrumented := make([][]byte, 0, len(bodies))
	for _, body := range bodies {
		rewritten, err := instrumentFunctionBody(body, uint32(gasCheckFuncIdx))
		if err != nil {
			return nil, fmt.Errorf("limiter: %w", err)
		}
		instrumented = append(instrumented, rewritten)
	}
	instrumented = append(instrumented,
		gasCheckBody(uint32(gasGlobalIdx)),
		resetGasBody(uint32(gasGlobalIdx)),
	)

	out := replaceSection(sections, secType, buildVector(numExistingTypes+2, append(dup(typeEntries), newTypes...)))
	out = replaceSection(out, secFunction, buildVector(numExistingFuncs+2,
		concatBytes(dup(funcEntries), encodeULEB(voidTypeIdx), encodeULEB(i32TypeIdx))))
	out = replaceSection(out, secGlobal, buildVector(numExistingGlobals+1,
		concatBytes(dup(globalEntries), gasGlobalEntry())))
	out = replaceSection(out, secExport, buildVector(numExistingExports+1,
		concatBytes(dup(exportEntries), exportEntry(resetGasExport, externKindFunc, resetGasFuncIdx))))
	out = replaceSection(out, secCode, encodeCodeSection(instrumented))

	return encodeModule(version, out), nil
}

func dup(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func encodeULEB(v uint64) []byte {
	return putULEB128(nil, v)
}

// splitSections walks the section stream following the 8-byte header and
// returns each section's id and raw payload, in file order.
func splitSections(buf []byte) ([]section, error) {
	var out []section
	pos := 0
	for pos < len(buf) {
		id := buf[pos]
		pos++
		size, next, err := readULEB128(buf, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		if pos+int(size) > len(buf) {
			return nil, fmt.Errorf("section %d overruns module", id)
		}
		out = append(out, section{id: id, payload: buf[pos : pos+int(size)]})
		pos += int(size)
	}
	return out, nil
}

func findSection(sections []section, id byte) []byte {
	for _, s := range sections {
		if s.id == id {
			return s.payload
		}
	}
	return nil
}

// vectorPrefix reads the leading uleb128 element count of a
// length-prefixed vector section and returns it along with the raw bytes
// of the existing entries (everything after that count). A nil payload
// (section absent) reads as zero entries.
func vectorPrefix(payload []byte) (uint64, []byte, error) {
	if payload == nil {
		return 0, nil, nil
	}
	count, pos, err := readULEB128(payload, 0)
	if err != nil {
		return 0, nil, err
	}
	return count, payload[pos:], nil
}

// buildVector re-assembles a section payload from an element count and
// the raw bytes of its (possibly extended) entries.
func buildVector(count uint64, entries []byte) []byte {
	return concatBytes(encodeULEB(count), entries)
}

func replaceSection(sections []section, id byte, payload []byte) []section {
	for i := range sections {
		if sections[i].id == id {
			out := make([]section, len(sections))
			copy(out, sections)
			out[i].payload = payload
			return out
		}
	}
	// Section was absent; insert it in ascending id order (ignoring
	// custom sections, id 0, which may legally appear anywhere).
	out := make([]section, 0, len(sections)+1)
	inserted := false
	for _, s := range sections {
		if !inserted && s.id != secCustom && s.id > id {
			out = append(out, section{id: id, payload: payload})
			inserted = true
		}
		out = append(out, s)
	}
	if !inserted {
		out = append(out, section{id: id, payload: payload})
	}
	return out
}

func encodeModule(version []byte, sections []section) []byte {
	out := append([]byte{}, wasmMagic...)
	out = append(out, version...)
	for _, s := range sections {
		out = append(out, s.id)
		out = append(out, putVecLenPrefixed(s.payload)...)
	}
	return out
}

// countImportedFuncs scans the import section for entries whose kind is
// "func" (0x00), which occupy the low end of the function index space.
func countImportedFuncs(payload []byte) uint64 {
	if payload == nil {
		return 0
	}
	count, pos, err := readULEB128(payload, 0)
	if err != nil {
		return 0
	}
	var numFuncs uint64
	for i := uint64(0); i < count; i++ {
		// module name
		modLen, p, err := readULEB128(payload, pos)
		if err != nil {
			return numFuncs
		}
		pos = p + int(modLen)
		// field name
		fieldLen, p2, err := readULEB128(payload, pos)
		if err != nil {
			return numFuncs
		}
		pos = p2 + int(fieldLen)
		if pos >= len(payload) {
			return numFuncs
		}
		kind := payload[pos]
		pos++
		switch kind {
		case externKindFunc:
			numFuncs++
			_, p3, err := readULEB128(payload, pos) // type index
			if err != nil {
				return numFuncs
			}
			pos = p3
		case 0x01: // table
			pos++ // elem type
			pos = skipLimits(payload, pos)
		case 0x02: // memory
			pos = skipLimits(payload, pos)
		case 0x03: // global
			pos += 2 // valtype + mutability
		}
	}
	return numFuncs
}

func skipLimits(payload []byte, pos int) int {
	if pos >= len(payload) {
		return pos
	}
	flags := payload[pos]
	pos++
	_, p, err := readULEB128(payload, pos)
	if err != nil {
		return pos
	}
	pos = p
	if flags&0x01 != 0 {
		_, p2, err := readULEB128(payload, pos)
		if err == nil {
			pos = p2
		}
	}
	return pos
}

// splitCodeBodies decodes the code section's vector of size-prefixed
// function bodies into a slice of raw body byte slices (locals + expr,
// without the size prefix).
func splitCodeBodies(payload []byte) ([][]byte, error) {
	if payload == nil {
		return nil, nil
	}
	count, pos, err := readULEB128(payload, 0)
	if err != nil {
		return nil, err
	}
	bodies := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		size, next, err := readULEB128(payload, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		if pos+int(size) > len(payload) {
			return nil, fmt.Errorf("function body %d overruns code section", i)
		}
		bodies = append(bodies, payload[pos:pos+int(size)])
		pos += int(size)
	}
	return bodies, nil
}

func encodeCodeSection(bodies [][]byte) []byte {
	out := encodeULEB(uint64(len(bodies)))
	for _, b := range bodies {
		out = append(out, putVecLenPrefixed(b)...)
	}
	return out
}

// funcType encodes a function type with no results and the given
// parameter value types.
func funcType(params []byte) []byte {
	out := []byte{funcTypeForm}
	out = append(out, encodeULEB(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, encodeULEB(0)...) // no results
	return out
}

// gasGlobalEntry encodes a new mutable i32 global initialized to zero;
// reset_gas overwrites it at the start of every tick before any call
// into the guest can consume it.
func gasGlobalEntry() []byte {
	return []byte{
		valTypeI32, mutabilityMut,
		opI32Const, 0x00, // i32.const 0
		opEnd,
	}
}

func exportEntry(name string, kind byte, index uint64) []byte {
	out := encodeULEB(uint64(len(name)))
	out = append(out, []byte(name)...)
	out = append(out, kind)
	out = append(out, encodeULEB(index)...)
	return out
}

// gasCheckBody is `func () { global.set gas (i32.sub (global.get gas)
// (i32.const cost)); if (i32.lt_s (global.get gas) (i32.const 0))
// unreachable end }`, encoded directly as bytes.
func gasCheckBody(gasGlobalIdx uint32) []byte {
	const (
		opI32Sub = byte(0x6B)
		opI32LtS = byte(0x48)
	)
	var expr []byte
	expr = append(expr, opGlobalGet)
	expr = append(expr, encodeULEB(uint64(gasGlobalIdx))...)
	expr = append(expr, opI32Const)
	expr = append(expr, putSLEB128(nil, gasCostPerCheck)...)
	expr = append(expr, opI32Sub)
	expr = append(expr, opGlobalSet)
	expr = append(expr, encodeULEB(uint64(gasGlobalIdx))...)

	expr = append(expr, opGlobalGet)
	expr = append(expr, encodeULEB(uint64(gasGlobalIdx))...)
	expr = append(expr, opI32Const, 0x00)
	expr = append(expr, opI32LtS)
	expr = append(expr, opIf, 0x40) // blocktype: empty
	expr = append(expr, opUnreachable)
	expr = append(expr, opEnd) // end if
	expr = append(expr, opEnd) // end function body

	return concatBytes([]byte{0x00 /* no locals */}, expr)
}

// resetGasBody is `func (amount: i32) { global.set gas (local.get 0) }`.
func resetGasBody(gasGlobalIdx uint32) []byte {
	var expr []byte
	expr = append(expr, opLocalGet, 0x00)
	expr = append(expr, opGlobalSet)
	expr = append(expr, encodeULEB(uint64(gasGlobalIdx))...)
	expr = append(expr, opEnd)
	return concatBytes([]byte{0x00 /* no locals */}, expr)
}

// instrumentFunctionBody inserts a call to gasCheckFuncIdx immediately
// after the function's local declarations (function entry) and
// immediately after every loop opcode's blocktype byte (loop re-entry —
// every back-edge targets exactly that point, so charging gas there
// charges once per iteration without needing to locate the br/br_if
// instructions that form the back-edge).
func instrumentFunctionBody(body []byte, gasCheckFuncIdx uint32) ([]byte, error) {
	localsEnd, err := skipLocalDecls(body)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+16)
	out = append(out, body[:localsEnd]...)
	out = append(out, opCall)
	out = append(out, encodeULEB(uint64(gasCheckFuncIdx))...)

	rest, err := walkAndInstrument(body[localsEnd:], gasCheckFuncIdx)
	if err != nil {
		return nil, err
	}
	return append(out, rest...), nil
}

func skipLocalDecls(body []byte) (int, error) {
	count, pos, err := readULEB128(body, 0)
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < count; i++ {
		_, next, err := readULEB128(body, pos)
		if err != nil {
			return 0, err
		}
		pos = next + 1 // the local's value type, one byte
		if pos > len(body) {
			return 0, fmt.Errorf("local declaration %d overruns function body", i)
		}
	}
	return pos, nil
}

// walkAndInstrument linearly scans an instruction stream, skipping the
// immediate operands of the MVP opcodes plus typed select, and copies it
// through to the output — inserting a gas-check call immediately after
// every loop opcode's blocktype immediate. 0xFC-prefixed opcodes are
// rejected; other post-MVP opcodes with immediates (table.get/set,
// ref.null, ref.func, 0xFD SIMD) are not recognized and are copied as if
// they had none.
func walkAndInstrument(code []byte, gasCheckFuncIdx uint32) ([]byte, error) {
	var out []byte
	pos := 0
	n := len(code)
	for pos < n {
		start := pos
		op := code[pos]
		pos++

		switch op {
		case opBlock, opLoop, opIf:
			_, np, err := readSLEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np
		case opBr, opBrIf, opLocalGet, opLocalSet, opLocalTee, opGlobalGet, opGlobalSet, opCall:
			_, np, err := readULEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np
		case opCallIndir:
			_, np, err := readULEB128(code, pos)
			if err != nil {
				return nil, err
			}
			_, np2, err := readULEB128(code, np)
			if err != nil {
				return nil, err
			}
			pos = np2
		case opBrTable:
			cnt, np, err := readULEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np
			for i := uint64(0); i <= cnt; i++ {
				_, np2, err := readULEB128(code, pos)
				if err != nil {
					return nil, err
				}
				pos = np2
			}
		case opI32Const:
			_, np, err := readSLEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np
		case opI64Const:
			_, np, err := readSLEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np
		case opF32Const:
			pos += 4
		case opF64Const:
			pos += 8
		case opMemSize, opMemGrow:
			_, np, err := readULEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np
		case opSelectT:
			cnt, np, err := readULEB128(code, pos)
			if err != nil {
				return nil, err
			}
			pos = np + int(cnt)
		case opPrefixFC:
			return nil, fmt.Errorf("unsupported extended opcode 0xFC at offset %d", start)
		default:
			if op >= opMemLoadLo && op <= opMemLoadHi {
				_, np, err := readULEB128(code, pos)
				if err != nil {
					return nil, err
				}
				_, np2, err := readULEB128(code, np)
				if err != nil {
					return nil, err
				}
				pos = np2
			}
			// else: no immediate operand (unreachable, nop, else, end,
			// return, drop, select, and the numeric/comparison/
			// conversion/sign-extension opcodes).
		}

		if pos > n {
			return nil, fmt.Errorf("instruction at offset %d overruns function body", start)
		}
		out = append(out, code[start:pos]...)
		if op == opLoop {
			out = append(out, opCall)
			out = append(out, encodeULEB(uint64(gasCheckFuncIdx))...)
		}
	}
	return out, nil
}

