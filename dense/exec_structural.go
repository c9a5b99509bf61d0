package dense

import (
	"reflect"

	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/gomlx/go-dispatch/types/shapes"
	"github.com/pkg/errors"
)

// Structural operators move bytes without interpreting them, so they work
// for every dtype: the inner copies go through reflect on the flat storage.

// execClone returns a fresh tensor with the same shape and data as its
// input. The clone carries only dispatch.KeyDense, like any other fresh
// output of a dense kernel.
func execClone(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	input, err := tensorOperand(op, stack, 0)
	if err != nil {
		return err
	}
	output := tensors.FromShape(input.Shape())
	if err := output.CopyFrom(input); err != nil {
		return errors.WithMessage(err, op.Name())
	}
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

func execConcatenate(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	list := stack.Input(0)
	if list.Kind() != dispatch.ValueTensorList {
		return errors.Errorf("%s: argument %q must be a tensor list, got a %s value",
			op.Name(), op.Schema().Params[0].Name, list.Kind())
	}
	axis, ok := stack.Input(1).ScalarValue().(int)
	if !ok {
		return errors.Errorf("%s: axis must be an int, got %T",
			op.Name(), stack.Input(1).ScalarValue())
	}

	operands := make([]*tensors.Tensor, 0, len(list.List()))
	shapeList := make([]shapes.Shape, 0, len(list.List()))
	for i, tl := range list.List() {
		t, ok := tl.(*tensors.Tensor)
		if !ok {
			return errors.Errorf("%s: operand #%d is a %T, dense kernels require *tensors.Tensor",
				op.Name(), i, tl)
		}
		operands = append(operands, t)
		shapeList = append(shapeList, t.Shape())
	}
	resultShape, err := shapes.ConcatenateShapes(axis, shapeList...)
	if err != nil {
		return errors.WithMessage(err, op.Name())
	}
	output := tensors.FromShape(resultShape)

	// Row-major layout: each operand contributes one contiguous block per
	// index combination of the axes before the concatenation axis.
	outerSize := 1
	for _, dim := range resultShape.Dimensions[:axis] {
		outerSize *= dim
	}
	outStride := resultShape.Size() / outerSize
	out := reflect.ValueOf(output.FlatAny())
	offset := 0
	for _, t := range operands {
		in := reflect.ValueOf(t.FlatAny())
		block := t.Shape().Size() / outerSize
		for outer := 0; outer < outerSize; outer++ {
			start := outer*outStride + offset
			reflect.Copy(out.Slice(start, start+block), in.Slice(outer*block, (outer+1)*block))
		}
		offset += block
	}
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

// execReshape returns an aliasing view of its input with new dimensions. The
// view shares storage and dispatch keys with the input.
func execReshape(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	self, err := tensorOperand(op, stack, 0)
	if err != nil {
		return err
	}
	dims, ok := stack.Input(1).ScalarValue().([]int)
	if !ok {
		return errors.Errorf("%s: dims must be a []int, got %T",
			op.Name(), stack.Input(1).ScalarValue())
	}
	view, err := self.Reshape(dims...)
	if err != nil {
		return errors.WithMessage(err, op.Name())
	}
	stack.PushOutput(dispatch.TensorValue(view))
	return nil
}
