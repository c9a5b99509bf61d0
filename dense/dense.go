// Package dense provides the reference kernels for the standard operator set,
// operating on plain dense tensors. They register under dispatch.KeyDense,
// the lowest-priority dispatch key: every dispatch chain bottoms out in one
// of these kernels unless an interception layer overrides the operator.
//
// The kernels are correctness-first loops over the flattened storage, with a
// per-dtype switch selecting a typed inner loop. Arithmetic covers the
// numeric dtypes, including Float16 and BFloat16 through float32 conversion;
// structural operators (copy, clone, concatenate, reshape, fill) work for
// every dtype.
//
// Kernels return errors for invalid calls (shape mismatches, wrong argument
// types) and panic for dtypes they have no loop for, in which case the
// tensors involved are left untouched.
package dense

import (
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/gomlx/go-dispatch/types"
	"github.com/pkg/errors"
)

// Operator classes of the standard set. Interception layers and inspection
// tooling use them to reason about kernel behavior without enumerating
// operators one by one.
var (
	// OutOfPlaceOps allocate fresh outputs carrying only dispatch.KeyDense.
	OutOfPlaceOps = types.SetWith(
		dispatch.OpTypeAdd, dispatch.OpTypeSub, dispatch.OpTypeMul,
		dispatch.OpTypeNeg, dispatch.OpTypeAddScalar,
		dispatch.OpTypeClone, dispatch.OpTypeConcatenate)

	// InPlaceOps write through their first operand and return its handle.
	InPlaceOps = types.SetWith(
		dispatch.OpTypeAddInPlace, dispatch.OpTypeCopy, dispatch.OpTypeFill)

	// ViewOps return handles aliasing their first operand's storage,
	// propagating its dispatch keys.
	ViewOps = types.SetWith(dispatch.OpTypeReshape)
)

// Install registers the dense reference kernels for the standard operator
// set under dispatch.KeyDense. Call it once while initializing a dispatcher,
// before the first call.
func Install(d *dispatch.Dispatcher) error {
	kernels := []struct {
		op     dispatch.OpType
		kernel dispatch.BoxedKernel
	}{
		{dispatch.OpTypeAdd, execAdd},
		{dispatch.OpTypeSub, execSub},
		{dispatch.OpTypeMul, execMul},
		{dispatch.OpTypeNeg, execNeg},
		{dispatch.OpTypeAddScalar, execAddScalar},
		{dispatch.OpTypeAddInPlace, execAddInPlace},
		{dispatch.OpTypeCopy, execCopy},
		{dispatch.OpTypeFill, execFill},
		{dispatch.OpTypeClone, execClone},
		{dispatch.OpTypeConcatenate, execConcatenate},
		{dispatch.OpTypeReshape, execReshape},
	}
	for _, k := range kernels {
		if err := d.RegisterKernel(k.op, dispatch.KeyDense, k.kernel); err != nil {
			return err
		}
	}
	return nil
}

// tensorOperand returns the i-th argument as a dense tensor.
func tensorOperand(op *dispatch.Operator, stack *dispatch.Stack, i int) (*tensors.Tensor, error) {
	if i >= stack.NumInputs() {
		return nil, errors.Errorf("%s expects %d arguments, call carries %d",
			op.Name(), len(op.Schema().Params), stack.NumInputs())
	}
	v := stack.Input(i)
	if v.Kind() != dispatch.ValueTensor {
		return nil, errors.Errorf("%s: argument %q must be a tensor, got a %s value",
			op.Name(), op.Schema().Params[i].Name, v.Kind())
	}
	t, ok := v.Tensor().(*tensors.Tensor)
	if !ok {
		return nil, errors.Errorf("%s: argument %q is a %T, dense kernels require *tensors.Tensor",
			op.Name(), op.Schema().Params[i].Name, v.Tensor())
	}
	return t, nil
}

// binaryOperands returns the two leading tensor arguments, verifying their
// shapes match. Dense arithmetic does not broadcast.
func binaryOperands(op *dispatch.Operator, stack *dispatch.Stack) (lhs, rhs *tensors.Tensor, err error) {
	lhs, err = tensorOperand(op, stack, 0)
	if err != nil {
		return
	}
	rhs, err = tensorOperand(op, stack, 1)
	if err != nil {
		return
	}
	if !lhs.Shape().Equal(rhs.Shape()) {
		return nil, nil, errors.Errorf("%s: operands must have the same shape, got %s and %s",
			op.Name(), lhs.Shape(), rhs.Shape())
	}
	return
}
