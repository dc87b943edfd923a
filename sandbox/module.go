package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/ude"
)

// Module is a codec backed by a WebAssembly module.
//
// Every Check, Init and Encode call runs in a fresh instance; a Module itself holds no
// guest state and is safe for concurrent use.
type Module struct {
	rt        *Runtime
	id        string
	key       uint64
	wasm      []byte
	canEncode bool
}

var _ ude.Codec = (*Module)(nil)

// ID returns the codec id the module serves.
func (m *Module) ID() string { return m.id }

// CanEncode reports whether the module exports an encode function.
func (m *Module) CanEncode() bool { return m.canEncode }

// Check asks the guest which features it supports for units described by meta.
//
// Returns:
//   - ude.FeatureSet: Feature bits reported by the guest
//   - error: ErrCodecMismatch when the guest rejects meta, SandboxFaultError on a fault
func (m *Module) Check(meta ude.UnitMetadata) (ude.FeatureSet, error) {
	ctx := context.Background()

	in, err := m.rt.instantiate(ctx, m)
	if err != nil {
		return 0, err
	}
	defer in.close(ctx)

	data, err := meta.MarshalBinary()
	if err != nil {
		return 0, err
	}
	ptr, err := in.put(ctx, data)
	if err != nil {
		return 0, err
	}

	res, err := in.call(ctx, m.rt.exports.Check, uint64(ptr), uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if int64(res) < 0 {
		return 0, fmt.Errorf("%w: module %q rejects %s units", errs.ErrCodecMismatch, m.id, meta.Kind)
	}

	return ude.FeatureSet(uint32(res)), nil //nolint: gosec
}

// Init instantiates the module and hands it one encoding unit.
//
// Parameters:
//   - ctx: Context for cancellation; the decoder's calls use the context passed to Decode
//   - unit: Encoded unit bytes, copied into guest memory
//   - kwargs: Negotiated decode arguments
//
// Returns:
//   - ude.Decoder: Decoder owning the instance; Close releases it
//   - error: SandboxFaultError when the guest traps, breaches a limit or rejects the unit
func (m *Module) Init(ctx context.Context, unit []byte, kwargs ude.Kwargs) (ude.Decoder, error) {
	in, err := m.rt.instantiate(ctx, m)
	if err != nil {
		return nil, err
	}

	d := &decoder{in: in}
	if n, ok := kwargs.Int(ude.KwargBatchSize); ok && n > 0 {
		d.maxRows = uint32(min(n, int64(^uint32(0)>>1))) //nolint: gosec
	}

	if err := d.init(ctx, m.rt.exports.Init, unit, kwargs); err != nil {
		_ = in.close(ctx)
		return nil, err
	}

	return d, nil
}

// Encode runs the guest encode export on batch.
//
// Returns:
//   - []byte: Encoded unit bytes
//   - error: ErrCodecMismatch when the module has no encode export, SandboxFaultError on a fault
func (m *Module) Encode(ctx context.Context, batch *ude.Batch, kwargs ude.Kwargs) ([]byte, error) {
	if !m.canEncode {
		return nil, fmt.Errorf("%w: module %q does not export %q", errs.ErrCodecMismatch, m.id, m.rt.exports.Encode)
	}

	wire, err := ude.MarshalWire(batch)
	if err != nil {
		return nil, err
	}
	kw, err := kwargs.MarshalBinary()
	if err != nil {
		return nil, err
	}

	in, err := m.rt.instantiate(ctx, m)
	if err != nil {
		return nil, err
	}
	defer in.close(ctx)

	bp, err := in.put(ctx, wire)
	if err != nil {
		return nil, err
	}
	kp, err := in.put(ctx, kw)
	if err != nil {
		return nil, err
	}

	res, err := in.call(ctx, m.rt.exports.Encode, uint64(bp), uint64(len(wire)), uint64(kp), uint64(len(kw)))
	if err != nil {
		return nil, err
	}
	if res == failed {
		return nil, m.rt.fault(errs.NewSandboxFault(m.id, reasonRejected, fmt.Errorf("encode of %d rows failed", batch.Len())))
	}

	return in.get(res)
}

// decoder streams the batches of one unit out of a dedicated instance.
type decoder struct {
	in      *instance
	maxRows uint32
	done    bool
	closed  bool
}

func (d *decoder) init(ctx context.Context, fn string, unit []byte, kwargs ude.Kwargs) error {
	kw, err := kwargs.MarshalBinary()
	if err != nil {
		return err
	}

	up, err := d.in.put(ctx, unit)
	if err != nil {
		return err
	}
	kp, err := d.in.put(ctx, kw)
	if err != nil {
		return err
	}

	res, err := d.in.call(ctx, fn, uint64(up), uint64(len(unit)), uint64(kp), uint64(len(kw)))
	if err != nil {
		return err
	}
	if uint32(res) != 0 {
		return d.in.rt.fault(errs.NewSandboxFault(d.in.codec, reasonRejected,
			fmt.Errorf("init returned %d for a %d byte unit", int32(uint32(res)), len(unit)))) //nolint: gosec
	}

	return nil
}

// Decode returns the next batch, or nil once the guest reports completion.
func (d *decoder) Decode(ctx context.Context) (*ude.Batch, error) {
	if d.done || d.closed {
		return nil, nil
	}

	res, err := d.in.call(ctx, d.in.rt.exports.Decode, uint64(d.maxRows))
	if err != nil {
		d.done = true
		return nil, err
	}

	switch res {
	case 0:
		d.done = true
		return nil, nil
	case failed:
		d.done = true
		return nil, d.in.rt.fault(errs.NewSandboxFault(d.in.codec, reasonRejected, errors.New("decode failed")))
	}

	data, err := d.in.get(res)
	if err != nil {
		d.done = true
		return nil, err
	}

	batch, err := ude.UnmarshalWire(data)
	if err != nil {
		d.done = true
		return nil, d.in.rt.fault(errs.NewSandboxFault(d.in.codec, reasonABI, err))
	}
	return batch, nil
}

// Close releases the instance. It is idempotent.
func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	return d.in.close(context.Background())
}
