// Package negview implements the pending-negation interception layer: a
// tensor marked with dispatch.KeyNegView stores the negation of its logical
// value. Negating a tensor is then a constant-time key toggle (View), and
// the cost of materializing the negated content is paid only when an
// operator actually needs it.
//
// The layer shares the generic fallback mechanism with flatview, with
// semantic instead of structural hooks: Transform materializes the negated
// content of a marked tensor, Untransform negates a computed result back
// into the destination's storage, whose logical value then matches the
// result. Reshape passes through (views propagate the marker), and neg of a
// marked tensor short-circuits natively to a plain copy of the stored
// content.
//
// Marked tensors must have a signed numeric dtype; materialization panics
// for unsigned and non-numeric dtypes.
package negview

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/fallback"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Key is the dispatch key of the pending-negation layer.
const Key = dispatch.KeyNegView

// View returns a handle aliasing t's storage whose logical value is the
// negation of t's: the marker key is toggled, so viewing twice gives back
// the original semantics.
func View(t *tensors.Tensor) *tensors.Tensor {
	keys := t.Keys()
	if keys.Has(Key) {
		return t.WithKeys(keys.Remove(Key))
	}
	return t.WithKeys(keys.Add(Key))
}

// Resolve returns a tensor holding t's logical value with the negation
// marker resolved: t itself when unmarked, otherwise a fresh tensor with the
// negated content and the marker dropped.
func Resolve(t *tensors.Tensor) *tensors.Tensor {
	if !t.Keys().Has(Key) {
		return t
	}
	output := tensors.FromShape(t.Shape())
	negateInto(output, t)
	return output.WithKeys(t.Keys().Remove(Key))
}

// Transformer supplies the pending-negation hook pair.
type Transformer struct{}

var _ fallback.Transformer = Transformer{}

// Transform materializes the logical (negated) content of a marked tensor
// into a fresh unmarked tensor of the same shape.
func (Transformer) Transform(t dispatch.TensorLike) dispatch.TensorLike {
	return Resolve(t.(*tensors.Tensor))
}

// Untransform negates result into dst's storage: dst still carries the
// marker, so its logical value afterwards equals result's content.
func (Transformer) Untransform(dst, result dispatch.TensorLike) error {
	dstTensor := dst.(*tensors.Tensor)
	resultTensor := result.(*tensors.Tensor)
	if !dstTensor.Shape().Equal(resultTensor.Shape()) {
		return errors.Errorf("negated result shape %s does not match destination %s",
			resultTensor.Shape(), dstTensor.Shape())
	}
	negateInto(dstTensor, resultTensor)
	return nil
}

// Routing returns the per-operator routing of the layer: reshape passes
// through (the view carries the marker on), neg is served natively, the rest
// take the generic fallback.
func Routing() (*fallback.Routing, error) {
	return fallback.NewRouting(
		fallback.Entry{Op: dispatch.OpTypeReshape, Policy: fallback.PolicyPassThrough},
		fallback.Entry{Op: dispatch.OpTypeNeg, Policy: fallback.PolicyNativeOverride, Kernel: execNegResolve},
	)
}

// Install registers the layer on a dispatcher. Call it once while
// initializing the dispatcher, before the first call.
func Install(d *dispatch.Dispatcher) error {
	routing, err := Routing()
	if err != nil {
		return err
	}
	return routing.InstallTo(d, Key, Transformer{})
}

// execNegResolve serves neg directly under the marker key: the negation of a
// pending negation is the stored content itself, so the result is a plain
// copy with the marker dropped and no arithmetic at all.
func execNegResolve(d *dispatch.Dispatcher, op *dispatch.Operator, keys dispatch.KeySet, stack *dispatch.Stack) error {
	input, ok := stack.Input(0).Tensor().(*tensors.Tensor)
	if !ok {
		return errors.Errorf("%s: argument %q is a %T, the pending-negation layer requires *tensors.Tensor",
			op.Name(), op.Schema().Params[0].Name, stack.Input(0).Tensor())
	}
	if !input.Keys().Has(Key) {
		// Reached under an explicit key set without a marked argument:
		// nothing to resolve here.
		return d.Redispatch(op, keys, Key, stack)
	}
	output := input.Clone().WithKeys(input.Keys().Remove(Key))
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

type signedConstraints interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

func negateInto(output, input *tensors.Tensor) {
	switch output.DType() {
	case dtypes.Int8:
		negateGeneric(tensors.FlatData[int8](input), tensors.FlatData[int8](output))
	case dtypes.Int16:
		negateGeneric(tensors.FlatData[int16](input), tensors.FlatData[int16](output))
	case dtypes.Int32:
		negateGeneric(tensors.FlatData[int32](input), tensors.FlatData[int32](output))
	case dtypes.Int64:
		negateGeneric(tensors.FlatData[int64](input), tensors.FlatData[int64](output))
	case dtypes.Float32:
		negateGeneric(tensors.FlatData[float32](input), tensors.FlatData[float32](output))
	case dtypes.Float64:
		negateGeneric(tensors.FlatData[float64](input), tensors.FlatData[float64](output))
	case dtypes.Float16:
		negateFloat16(tensors.FlatData[float16.Float16](input), tensors.FlatData[float16.Float16](output))
	case dtypes.BFloat16:
		negateBFloat16(tensors.FlatData[bfloat16.BFloat16](input), tensors.FlatData[bfloat16.BFloat16](output))
	default:
		exceptions.Panicf("negview: unsupported data type %s, the negation marker requires a signed numeric dtype", output.DType())
	}
}

func negateGeneric[T signedConstraints](inputs, outputs []T) {
	for ii, input := range inputs {
		outputs[ii] = -input
	}
}

func negateFloat16(inputs, outputs []float16.Float16) {
	for ii, input := range inputs {
		outputs[ii] = float16.Fromfloat32(-input.Float32())
	}
}

func negateBFloat16(inputs, outputs []bfloat16.BFloat16) {
	for ii, input := range inputs {
		outputs[ii] = bfloat16.FromFloat32(-input.Float32())
	}
}
