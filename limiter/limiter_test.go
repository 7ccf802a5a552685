package limiter

import (
	"bytes"
	"testing"
)

// buildMinimalModule assembles a module with a single exported function
// of type ()->() whose body (locals and expression) is body, for Rewrite
// to instrument.
func buildMinimalModule(t *testing.T, body []byte) []byte {
	t.Helper()

	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, 0x01, 0x00, 0x00, 0x00)

	// type section: one ()->() signature
	typePayload := concatBytes([]byte{0x01}, funcType(nil))
	out = appendSection(out, secType, typePayload)

	// function section: one function of type 0
	funcPayload := concatBytes([]byte{0x01}, encodeULEB(0))
	out = appendSection(out, secFunction, funcPayload)

	// export section: export it as "run"
	exportPayload := concatBytes([]byte{0x01}, exportEntry("run", externKindFunc, 0))
	out = appendSection(out, secExport, exportPayload)

	// code section: one body
	sized := concatBytes(encodeULEB(uint64(len(body))), body)
	codePayload := concatBytes([]byte{0x01}, sized)
	out = appendSection(out, secCode, codePayload)

	return out
}

func appendSection(buf []byte, id byte, payload []byte) []byte {
	buf = append(buf, id)
	buf = append(buf, encodeULEB(uint64(len(payload)))...)
	buf = append(buf, payload...)
	return buf
}

func TestRewriteRejectsNonWasm(t *testing.T) {
	if _, err := Rewrite([]byte("not wasm")); err == nil {
		t.Fatal("expected an error for non-WASM input")
	}
}

func TestRewriteAddsResetGasExport(t *testing.T) {
	body := []byte{0x00, opEnd} // 0 locals, end
	mod := buildMinimalModule(t, body)

	out, err := Rewrite(mod)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if !bytes.Equal(out[:4], wasmMagic) {
		t.Fatal("rewritten module lost its magic header")
	}

	sections, err := splitSections(out[8:])
	if err != nil {
		t.Fatalf("splitSections on rewritten module: %v", err)
	}

	exportPayload := findSection(sections, secExport)
	if exportPayload == nil {
		t.Fatal("rewritten module has no export section")
	}
	count, rest, err := vectorPrefix(exportPayload)
	if err != nil {
		t.Fatalf("export vectorPrefix: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 exports (run, reset_gas), got %d", count)
	}

	foundResetGas := false
	pos := 0
	for i := uint64(0); i < count; i++ {
		nameLen, next, err := readULEB128(rest, pos)
		if err != nil {
			t.Fatalf("export name length: %v", err)
		}
		name := string(rest[next : next+int(nameLen)])
		pos = next + int(nameLen) + 1 // skip name + kind byte
		_, np, err := readULEB128(rest, pos)
		if err != nil {
			t.Fatalf("export index: %v", err)
		}
		pos = np
		if name == resetGasExport {
			foundResetGas = true
		}
	}
	if !foundResetGas {
		t.Fatal("rewritten module does not export reset_gas")
	}
}

func TestRewriteInstrumentsFunctionEntry(t *testing.T) {
	body := []byte{0x00, opEnd}
	mod := buildMinimalModule(t, body)

	out, err := Rewrite(mod)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	sections, err := splitSections(out[8:])
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}
	codePayload := findSection(sections, secCode)
	bodies, err := splitCodeBodies(codePayload)
	if err != nil {
		t.Fatalf("splitCodeBodies: %v", err)
	}
	// 3 bodies: the original "run" function, gas_check, reset_gas.
	if len(bodies) != 3 {
		t.Fatalf("expected 3 function bodies after rewrite, got %d", len(bodies))
	}

	runBody := bodies[0]
	// runBody: [0 locals][call gasCheckFuncIdx][end]
	if runBody[0] != 0x00 {
		t.Fatalf("expected 0 local-decl groups, got %d", runBody[0])
	}
	if runBody[1] != opCall {
		t.Fatalf("expected instrumented function to open with a call, got opcode %#x", runBody[1])
	}
}

func TestRewriteInstrumentsLoopReentry(t *testing.T) {
	// body: loop (blocktype empty) ; end loop ; end func
	body := []byte{0x00, opLoop, 0x40, opEnd, opEnd}
	mod := buildMinimalModule(t, body)

	out, err := Rewrite(mod)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	sections, err := splitSections(out[8:])
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}
	bodies, err := splitCodeBodies(findSection(sections, secCode))
	if err != nil {
		t.Fatalf("splitCodeBodies: %v", err)
	}

	runBody := bodies[0]
	// Expect: 0 locals, call(entry), loop, blocktype, call(reentry), end, end
	if !bytes.Contains(runBody, []byte{opLoop, 0x40, opCall}) {
		t.Fatalf("expected a gas-check call immediately after the loop's blocktype, got % x", runBody)
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1}
	for _, v := range values {
		buf := putULEB128(nil, v)
		got, next, err := readULEB128(buf, 0)
		if err != nil {
			t.Fatalf("readULEB128(%d): %v", v, err)
		}
		if got != v || next != len(buf) {
			t.Errorf("ULEB128 round-trip failed for %d: got %d (consumed %d/%d)", v, got, next, len(buf))
		}
	}

	signed := []int64{0, -1, 63, -64, 1000, -1000, 1 << 40, -(1 << 40)}
	for _, v := range signed {
		buf := putSLEB128(nil, v)
		got, next, err := readSLEB128(buf, 0)
		if err != nil {
			t.Fatalf("readSLEB128(%d): %v", v, err)
		}
		if got != v || next != len(buf) {
			t.Errorf("SLEB128 round-trip failed for %d: got %d (consumed %d/%d)", v, got, next, len(buf))
		}
	}
}
