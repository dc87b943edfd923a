// Package testutil provides fixtures shared by the f3 package tests: hand-assembled
// WebAssembly codec modules, a version 1 file builder and an instrumented codec.
package testutil

import "slices"

// WebAssembly value types.
const (
	I32 byte = 0x7F
	I64 byte = 0x7E
)

// Instructions used by the fixture modules.
const (
	opBlock      = 0x02
	opLoop       = 0x03
	opIf         = 0x04
	opEnd        = 0x0B
	opBr         = 0x0C
	opBrIf       = 0x0D
	opReturn     = 0x0F
	opLocalGet   = 0x20
	opLocalSet   = 0x21
	opGlobalGet  = 0x23
	opGlobalSet  = 0x24
	opI32Load    = 0x28
	opMemorySize = 0x3F
	opMemoryGrow = 0x40
	opI32Const   = 0x41
	opI64Const   = 0x42
	opI32Eqz     = 0x45
	opI32Eq      = 0x46
	opI32LeU     = 0x4D
	opI32Add     = 0x6A
	opI32Sub     = 0x6B
	opI32Shl     = 0x74
	opI32ShrU    = 0x76
	opI64Or      = 0x84
	opI64Shl     = 0x86
	opI64ExtendU = 0xAD

	blockEmpty = 0x40
)

// WasmFunc is one function of a WasmModule.
type WasmFunc struct {
	Export  string // export name, empty to keep the function private
	Params  []byte
	Results []byte
	Locals  []byte // one value type per declared local
	Body    []byte // instructions without the final end
}

// WasmModule is a minimal module: one exported memory, mutable i32 globals and functions.
type WasmModule struct {
	MemoryExport string
	MemoryPages  uint32
	Globals      []int32
	Funcs        []WasmFunc
}

// Rename changes the export name of a function. It returns m for chaining.
func (m *WasmModule) Rename(from, to string) *WasmModule {
	for i := range m.Funcs {
		if m.Funcs[i].Export == from {
			m.Funcs[i].Export = to
		}
	}
	if m.MemoryExport == from {
		m.MemoryExport = to
	}

	return m
}

// Without drops the function exported as name. It returns m for chaining.
func (m *WasmModule) Without(name string) *WasmModule {
	m.Funcs = slices.DeleteFunc(m.Funcs, func(f WasmFunc) bool { return f.Export == name })
	return m
}

// Bytes assembles the module binary.
func (m *WasmModule) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	types := appendULEB(nil, uint64(len(m.Funcs)))
	for _, f := range m.Funcs {
		types = append(types, 0x60)
		types = appendVec(types, f.Params)
		types = appendVec(types, f.Results)
	}
	out = appendSection(out, 1, types)

	funcs := appendULEB(nil, uint64(len(m.Funcs)))
	for i := range m.Funcs {
		funcs = appendULEB(funcs, uint64(i))
	}
	out = appendSection(out, 3, funcs)

	mem := []byte{0x01, 0x00}
	mem = appendULEB(mem, uint64(m.MemoryPages))
	out = appendSection(out, 5, mem)

	if len(m.Globals) > 0 {
		globals := appendULEB(nil, uint64(len(m.Globals)))
		for _, g := range m.Globals {
			globals = append(globals, I32, 0x01)
			globals = append(globals, I32Const(g)...)
			globals = append(globals, opEnd)
		}
		out = appendSection(out, 6, globals)
	}

	var (
		exports []byte
		count   uint64
	)
	if m.MemoryExport != "" {
		exports = appendName(exports, m.MemoryExport)
		exports = append(exports, 0x02, 0x00)
		count++
	}
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		exports = appendName(exports, f.Export)
		exports = append(exports, 0x00)
		exports = appendULEB(exports, uint64(i))
		count++
	}
	out = appendSection(out, 7, append(appendULEB(nil, count), exports...))

	code := appendULEB(nil, uint64(len(m.Funcs)))
	for _, f := range m.Funcs {
		body := appendULEB(nil, uint64(len(f.Locals)))
		for _, l := range f.Locals {
			body = append(body, 0x01, l)
		}
		body = append(body, f.Body...)
		body = append(body, opEnd)
		code = appendULEB(code, uint64(len(body)))
		code = append(code, body...)
	}

	return appendSection(out, 10, code)
}

// I32Const encodes i32.const v.
func I32Const(v int32) []byte {
	return appendSLEB([]byte{opI32Const}, int64(v))
}

// I64Const encodes i64.const v.
func I64Const(v int64) []byte {
	return appendSLEB([]byte{opI64Const}, v)
}

func appendSection(dst []byte, id byte, body []byte) []byte {
	dst = append(dst, id)
	dst = appendULEB(dst, uint64(len(body)))

	return append(dst, body...)
}

func appendVec(dst []byte, items []byte) []byte {
	dst = appendULEB(dst, uint64(len(items)))
	return append(dst, items...)
}

func appendName(dst []byte, name string) []byte {
	dst = appendULEB(dst, uint64(len(name)))
	return append(dst, name...)
}

func appendULEB(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

func appendSLEB(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

func ops(parts ...[]byte) []byte {
	return slices.Concat(parts...)
}

func op(codes ...byte) []byte {
	return codes
}

// Globals of the fixture modules.
const (
	globalHeap    = 0
	globalUnitPtr = 1
	globalUnitLen = 2
)

// heapBase is where the bump allocator starts handing out memory.
const heapBase = 1024

// allocFunc is a bump allocator that grows memory on demand and returns 0 when
// memory.grow fails.
func allocFunc() WasmFunc {
	// locals: 0 size (param), 1 ptr, 2 end
	memBytes := op(opMemorySize, 0x00, opI32Const, 16, opI32Shl)

	return WasmFunc{
		Export:  "alloc",
		Params:  []byte{I32},
		Results: []byte{I32},
		Locals:  []byte{I32, I32},
		Body: ops(
			op(opGlobalGet, globalHeap, opLocalSet, 1),
			op(opLocalGet, 1, opLocalGet, 0, opI32Add, opLocalSet, 2),
			op(opBlock, blockEmpty),
			op(opLocalGet, 2), memBytes, op(opI32LeU, opBrIf, 0),
			op(opLocalGet, 2), memBytes, op(opI32Sub, opI32Const, 16, opI32ShrU, opI32Const, 1, opI32Add),
			op(opMemoryGrow, 0x00),
			I32Const(-1), op(opI32Eq),
			op(opIf, blockEmpty), I32Const(0), op(opReturn, opEnd),
			op(opEnd),
			op(opLocalGet, 2, opGlobalSet, globalHeap),
			op(opLocalGet, 1),
		),
	}
}

// checkFunc reports a fixed feature set for every unit.
func checkFunc(features int64) WasmFunc {
	return WasmFunc{
		Export:  "check",
		Params:  []byte{I32, I32},
		Results: []byte{I64},
		Body:    I64Const(features),
	}
}

// initFunc remembers the unit region for decode.
func initFunc() WasmFunc {
	return WasmFunc{
		Export:  "init",
		Params:  []byte{I32, I32, I32, I32},
		Results: []byte{I32},
		Body: ops(
			op(opLocalGet, 0, opGlobalSet, globalUnitPtr),
			op(opLocalGet, 1, opGlobalSet, globalUnitLen),
			I32Const(0),
		),
	}
}

// packGlobals pushes (global a) << 32 | (global b) as an i64.
func packGlobals(a, b byte) []byte {
	return ops(
		op(opGlobalGet, a, opI64ExtendU),
		I64Const(32), op(opI64Shl),
		op(opGlobalGet, b, opI64ExtendU),
		op(opI64Or),
	)
}

// passthroughDecode returns the whole unit once, then reports completion.
func passthroughDecode() WasmFunc {
	return WasmFunc{
		Export:  "decode",
		Params:  []byte{I32},
		Results: []byte{I64},
		Body: ops(
			op(opGlobalGet, globalUnitLen, opI32Eqz),
			op(opIf, blockEmpty), I64Const(0), op(opReturn, opEnd),
			packGlobals(globalUnitPtr, globalUnitLen),
			I32Const(0), op(opGlobalSet, globalUnitLen),
		),
	}
}

// passthroughEncode returns the input batch region unchanged.
func passthroughEncode() WasmFunc {
	return WasmFunc{
		Export:  "encode",
		Params:  []byte{I32, I32, I32, I32},
		Results: []byte{I64},
		Body: ops(
			op(opLocalGet, 0, opI64ExtendU),
			I64Const(32), op(opI64Shl),
			op(opLocalGet, 1, opI64ExtendU),
			op(opI64Or),
		),
	}
}

func baseModule(decode WasmFunc) *WasmModule {
	return &WasmModule{
		MemoryExport: "memory",
		MemoryPages:  1,
		Globals:      []int32{heapBase, 0, 0},
		Funcs: []WasmFunc{
			allocFunc(),
			checkFunc(0),
			initFunc(),
			decode,
			passthroughEncode(),
		},
	}
}

// PassthroughModule builds a codec module whose units are wire-format batches, the
// same layout the native plain codec writes. It supports no optional features.
func PassthroughModule() *WasmModule {
	return baseModule(passthroughDecode())
}

// PassthroughWasm returns the binary of PassthroughModule.
func PassthroughWasm() []byte {
	return PassthroughModule().Bytes()
}

// TrapWasm returns a module that traps with an out of bounds load on decode.
func TrapWasm() []byte {
	return baseModule(WasmFunc{
		Export:  "decode",
		Params:  []byte{I32},
		Results: []byte{I64},
		Body:    ops(I32Const(-16), op(opI32Load, 0x02, 0x00, opI64ExtendU)),
	}).Bytes()
}

// SpinWasm returns a module whose decode never returns.
func SpinWasm() []byte {
	return baseModule(WasmFunc{
		Export:  "decode",
		Params:  []byte{I32},
		Results: []byte{I64},
		Body:    ops(op(opLoop, blockEmpty, opBr, 0, opEnd), I64Const(0)),
	}).Bytes()
}

// RejectingWasm returns a module whose check rejects every unit.
func RejectingWasm() []byte {
	m := PassthroughModule()
	m.Funcs[1] = checkFunc(-1)

	return m.Bytes()
}
