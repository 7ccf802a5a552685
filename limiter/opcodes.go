package limiter

import ops "github.com/go-interpreter/wagon/wasm/operators"

// Opcode bytes the function-body scanner needs to recognize in order to
// correctly skip instruction immediates and find loop entries and
// function bodies to instrument. The handful wagon's operators package
// exports by name are used directly; wagon declares them as package-level
// byte variables (each registered in its opcode table at init), not as
// constants, so this block is a var block. The rest of the numeric
// opcode space is named locally since wagon's table does not cover every
// MVP opcode under an exported identifier.
var (
	opUnreachable = byte(ops.Unreachable)
	opBlock       = byte(0x02)
	opLoop        = byte(ops.Loop)
	opIf          = byte(0x04)
	opEnd         = byte(0x0B)
	opBr          = byte(0x0C)
	opBrIf        = byte(0x0D)
	opBrTable     = byte(ops.BrTable)
	opCall        = byte(ops.Call)
	opCallIndir   = byte(0x11)
	opSelectT     = byte(0x1C) // reference-types select-with-types, rare
	opLocalGet    = byte(0x20)
	opLocalSet    = byte(0x21)
	opLocalTee    = byte(0x22)
	opGlobalGet   = byte(ops.GetGlobal)
	opGlobalSet   = byte(ops.SetGlobal)
	opMemLoadLo   = byte(0x28) // first memory load/store opcode
	opMemLoadHi   = byte(0x3E) // last memory load/store opcode
	opMemSize     = byte(0x3F)
	opMemGrow     = byte(0x40)
	opI32Const    = byte(ops.I32Const)
	opI64Const    = byte(0x42)
	opF32Const    = byte(0x43)
	opF64Const    = byte(0x44)
	opPrefixFC    = byte(0xFC) // saturating-trunc / bulk-memory two-byte opcodes
)
