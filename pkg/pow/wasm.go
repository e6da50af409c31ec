package pow

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Exports the hash module is expected to provide.
const (
	exportSolve        = "wasm_solve"
	exportAlloc        = "__wbindgen_export_0"
	exportStackPointer = "__wbindgen_add_to_stack_pointer"
)

// WasmKernel runs a wasm-bindgen hash module through wazero. The module has
// a single linear memory and stack, so calls are serialized.
type WasmKernel struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module

	solve        api.Function
	alloc        api.Function
	stackPointer api.Function
}

// LoadWasmKernel reads and instantiates the module at path.
func LoadWasmKernel(ctx context.Context, path string) (*WasmKernel, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	return NewWasmKernel(ctx, wasm)
}

// NewWasmKernel instantiates the module bytes.
func NewWasmKernel(ctx context.Context, wasm []byte) (*WasmKernel, error) {
	r := wazero.NewRuntime(ctx)

	mod, err := r.Instantiate(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasm module: %w", err)
	}

	k := &WasmKernel{
		runtime:      r,
		module:       mod,
		solve:        mod.ExportedFunction(exportSolve),
		alloc:        mod.ExportedFunction(exportAlloc),
		stackPointer: mod.ExportedFunction(exportStackPointer),
	}
	for name, fn := range map[string]api.Function{
		exportSolve:        k.solve,
		exportAlloc:        k.alloc,
		exportStackPointer: k.stackPointer,
	} {
		if fn == nil {
			r.Close(ctx)
			return nil, fmt.Errorf("wasm module does not export %s", name)
		}
	}
	if mod.Memory() == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("wasm module does not export memory")
	}
	return k, nil
}

// Solve implements Kernel.
func (k *WasmKernel) Solve(ctx context.Context, challenge, prefix string, difficulty float64) (int64, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	res, err := k.stackPointer.Call(ctx, api.EncodeI32(-16))
	if err != nil {
		return 0, false, fmt.Errorf("reserve return area: %w", err)
	}
	retptr := api.DecodeU32(res[0])
	defer k.stackPointer.Call(context.WithoutCancel(ctx), api.EncodeI32(16))

	chPtr, chLen, err := k.writeString(ctx, challenge)
	if err != nil {
		return 0, false, err
	}
	pfPtr, pfLen, err := k.writeString(ctx, prefix)
	if err != nil {
		return 0, false, err
	}

	_, err = k.solve.Call(ctx,
		api.EncodeU32(retptr),
		api.EncodeU32(chPtr), api.EncodeU32(chLen),
		api.EncodeU32(pfPtr), api.EncodeU32(pfLen),
		api.EncodeF64(difficulty),
	)
	if err != nil {
		return 0, false, fmt.Errorf("call %s: %w", exportSolve, err)
	}

	mem := k.module.Memory()
	status, ok := mem.ReadUint32Le(retptr)
	if !ok {
		return 0, false, fmt.Errorf("read status out of range")
	}
	if status == 0 {
		return 0, false, nil
	}
	value, ok := mem.ReadFloat64Le(retptr + 8)
	if !ok {
		return 0, false, fmt.Errorf("read answer out of range")
	}
	return int64(value), true, nil
}

func (k *WasmKernel) writeString(ctx context.Context, s string) (uint32, uint32, error) {
	data := []byte(s)
	res, err := k.alloc.Call(ctx, api.EncodeU32(uint32(len(data))), api.EncodeU32(1))
	if err != nil {
		return 0, 0, fmt.Errorf("allocate %d bytes: %w", len(data), err)
	}
	ptr := api.DecodeU32(res[0])
	if !k.module.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("write %d bytes at %d out of range", len(data), ptr)
	}
	return ptr, uint32(len(data)), nil
}

// Close releases the runtime.
func (k *WasmKernel) Close(ctx context.Context) error {
	return k.runtime.Close(ctx)
}
