// Package flatview implements the flattened-view interception layer: a
// tensor marked with dispatch.KeyFlatView must be presented to the dense
// kernels in rank-1 form. The marker is structural only, the logical value
// of a marked tensor is its content unchanged.
//
// The layer is an instantiation of the generic fallback mechanism: Transform
// materializes the flattened form of a marked tensor, Untransform reshapes a
// computed result back to the destination's dimensions and copies it in
// place. Operators for which flattening is irrelevant (clone, copy_) pass
// through, reshape constructs the view natively, and every other operator
// takes the generic path.
//
// Because Transform changes the rank of marked operands, out-of-place
// operators mixing marked and unmarked tensors of equal shape see their
// operand shapes diverge and fail in the dense kernels; mark all tensor
// operands of a call, or none.
package flatview

import (
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/fallback"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/pkg/errors"
)

// Key is the dispatch key of the flattened-view layer.
const Key = dispatch.KeyFlatView

// View returns a handle aliasing t's storage, marked for flattened
// presentation.
func View(t *tensors.Tensor) *tensors.Tensor {
	return t.WithKeys(t.Keys().Add(Key))
}

// Transformer supplies the flattened-presentation hook pair.
type Transformer struct{}

var _ fallback.Transformer = Transformer{}

// Transform returns a fresh rank-1 tensor with t's content and the marker
// dropped. The copy keeps writes to the stand-in from reaching t's storage,
// which may also back other arguments of the same call.
func (Transformer) Transform(t dispatch.TensorLike) dispatch.TensorLike {
	tensor := t.(*tensors.Tensor)
	return tensor.Flatten().Clone().WithKeys(tensor.Keys().Remove(Key))
}

// Untransform reshapes result to dst's dimensions and copies the content
// into dst's storage, preserving dst's identity.
func (Transformer) Untransform(dst, result dispatch.TensorLike) error {
	dstTensor := dst.(*tensors.Tensor)
	resultTensor := result.(*tensors.Tensor)
	reshaped, err := resultTensor.Reshape(dstTensor.Shape().Dimensions...)
	if err != nil {
		return errors.WithMessagef(err, "flattened result does not fit destination %s", dstTensor.Shape())
	}
	return dstTensor.CopyFrom(reshaped)
}

// Routing returns the per-operator routing of the layer: content-moving
// operators pass through, reshape is served natively, the rest take the
// generic fallback.
func Routing() (*fallback.Routing, error) {
	return fallback.NewRouting(
		fallback.Entry{Op: dispatch.OpTypeClone, Policy: fallback.PolicyPassThrough},
		fallback.Entry{Op: dispatch.OpTypeCopy, Policy: fallback.PolicyPassThrough},
		fallback.Entry{Op: dispatch.OpTypeReshape, Policy: fallback.PolicyNativeOverride, Kernel: execReshapeView},
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

// execReshapeView serves reshape directly under the marker key: view
// construction does not depend on the presentation form, and the returned
// view carries the input's keys, marker included.
func execReshapeView(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	self, ok := stack.Input(0).Tensor().(*tensors.Tensor)
	if !ok {
		return errors.Errorf("%s: argument %q is a %T, the flattened-view layer requires *tensors.Tensor",
			op.Name(), op.Schema().Params[0].Name, stack.Input(0).Tensor())
	}
	dims, ok := stack.Input(1).ScalarValue().([]int)
	if !ok {
		return errors.Errorf("%s: dims must be a []int, got %T", op.Name(), stack.Input(1).ScalarValue())
	}
	view, err := self.Reshape(dims...)
	if err != nil {
		return errors.WithMessage(err, op.Name())
	}
	stack.PushOutput(dispatch.TensorValue(view))
	return nil
}
