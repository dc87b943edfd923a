package sandbox

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/arloliu/f3/errs"
)

// failed is the -1 sentinel returned by decode and encode.
const failed = ^uint64(0)

// instance is one module instance. It is not safe for concurrent use.
type instance struct {
	rt    *Runtime
	codec string
	mod   api.Module
	mem   api.Memory
}

func newInstance(r *Runtime, codec string, mod api.Module) (*instance, error) {
	mem := mod.ExportedMemory(r.exports.Memory)
	if mem == nil {
		_ = mod.Close(context.Background())
		return nil, r.fault(errs.NewSandboxFault(codec, reasonABI, fmt.Errorf("missing export %q", r.exports.Memory)))
	}

	return &instance{rt: r, codec: codec, mod: mod, mem: mem}, nil
}

// call invokes a guest function under the per-call timeout and maps failures to faults.
func (in *instance) call(ctx context.Context, name string, params ...uint64) (uint64, error) {
	fn := in.mod.ExportedFunction(name)
	if fn == nil {
		return 0, in.rt.fault(errs.NewSandboxFault(in.codec, reasonABI, fmt.Errorf("missing export %q", name)))
	}

	callCtx := ctx
	if in.rt.limits.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, in.rt.limits.Timeout)
		defer cancel()
	}

	results, err := fn.Call(callCtx, params...)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case callCtx.Err() != nil:
			return 0, in.rt.fault(errs.NewResourceLimitFault(in.codec, reasonTimeout,
				fmt.Errorf("%s exceeded %s", name, in.rt.limits.Timeout)))
		default:
			return 0, in.rt.fault(errs.NewSandboxFault(in.codec, reasonTrap, fmt.Errorf("%s: %w", name, err)))
		}
	}
	if len(results) != 1 {
		return 0, in.rt.fault(errs.NewSandboxFault(in.codec, reasonABI,
			fmt.Errorf("%s returned %d values", name, len(results))))
	}

	return results[0], nil
}

// put copies data into guest memory and returns its pointer. Empty data is passed as (0, 0).
func (in *instance) put(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}

	ptr, err := in.call(ctx, in.rt.exports.Alloc, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if uint32(ptr) == 0 {
		return 0, in.rt.fault(errs.NewResourceLimitFault(in.codec, reasonMemory,
			fmt.Errorf("alloc of %d bytes failed", len(data))))
	}
	if !in.mem.Write(uint32(ptr), data) {
		return 0, in.rt.fault(errs.NewSandboxFault(in.codec, reasonABI,
			fmt.Errorf("alloc returned out of bounds region [%d, +%d)", uint32(ptr), len(data))))
	}

	return uint32(ptr), nil
}

// get copies a packed ptr<<32|len region out of guest memory.
func (in *instance) get(packed uint64) ([]byte, error) {
	ptr, size := uint32(packed>>32), uint32(packed) //nolint: gosec
	view, ok := in.mem.Read(ptr, size)
	if !ok {
		return nil, in.rt.fault(errs.NewSandboxFault(in.codec, reasonABI,
			fmt.Errorf("result region [%d, +%d) out of bounds", ptr, size)))
	}

	out := make([]byte, len(view))
	copy(out, view)

	return out, nil
}

func (in *instance) close(ctx context.Context) error {
	return in.mod.Close(ctx)
}
