package dense

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// This file implements the elementwise binary operators and the
// tensor-scalar variant AddScalar. Both operands must have the same shape;
// the *Into helpers are shared with the in-place kernels, which pass the
// written operand as the output.

func execAdd(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	lhs, rhs, err := binaryOperands(op, stack)
	if err != nil {
		return err
	}
	output := tensors.FromShape(lhs.Shape())
	addInto(output, lhs, rhs, op)
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

func execSub(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	lhs, rhs, err := binaryOperands(op, stack)
	if err != nil {
		return err
	}
	output := tensors.FromShape(lhs.Shape())
	subInto(output, lhs, rhs, op)
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

func execMul(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	lhs, rhs, err := binaryOperands(op, stack)
	if err != nil {
		return err
	}
	output := tensors.FromShape(lhs.Shape())
	mulInto(output, lhs, rhs, op)
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

// execAddScalar executes add_scalar(a, value): almost a unary operation with
// a constant. The value's Go type must match the tensor's dtype.
func execAddScalar(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	input, err := tensorOperand(op, stack, 0)
	if err != nil {
		return err
	}
	value := stack.Input(1).ScalarValue()
	output := tensors.FromShape(input.Shape())
	if err := addScalarInto(output, input, value, op); err != nil {
		return err
	}
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

func addInto(output, lhs, rhs *tensors.Tensor, op *dispatch.Operator) {
	switch output.DType() {
	case dtypes.Int8:
		execAddGeneric(tensors.FlatData[int8](lhs), tensors.FlatData[int8](rhs), tensors.FlatData[int8](output))
	case dtypes.Int16:
		execAddGeneric(tensors.FlatData[int16](lhs), tensors.FlatData[int16](rhs), tensors.FlatData[int16](output))
	case dtypes.Int32:
		execAddGeneric(tensors.FlatData[int32](lhs), tensors.FlatData[int32](rhs), tensors.FlatData[int32](output))
	case dtypes.Int64:
		execAddGeneric(tensors.FlatData[int64](lhs), tensors.FlatData[int64](rhs), tensors.FlatData[int64](output))
	case dtypes.Uint8:
		execAddGeneric(tensors.FlatData[uint8](lhs), tensors.FlatData[uint8](rhs), tensors.FlatData[uint8](output))
	case dtypes.Uint16:
		execAddGeneric(tensors.FlatData[uint16](lhs), tensors.FlatData[uint16](rhs), tensors.FlatData[uint16](output))
	case dtypes.Uint32:
		execAddGeneric(tensors.FlatData[uint32](lhs), tensors.FlatData[uint32](rhs), tensors.FlatData[uint32](output))
	case dtypes.Uint64:
		execAddGeneric(tensors.FlatData[uint64](lhs), tensors.FlatData[uint64](rhs), tensors.FlatData[uint64](output))
	case dtypes.Float32:
		execAddGeneric(tensors.FlatData[float32](lhs), tensors.FlatData[float32](rhs), tensors.FlatData[float32](output))
	case dtypes.Float64:
		execAddGeneric(tensors.FlatData[float64](lhs), tensors.FlatData[float64](rhs), tensors.FlatData[float64](output))
	case dtypes.Float16:
		execAddFloat16(tensors.FlatData[float16.Float16](lhs), tensors.FlatData[float16.Float16](rhs), tensors.FlatData[float16.Float16](output))
	case dtypes.BFloat16:
		execAddBFloat16(tensors.FlatData[bfloat16.BFloat16](lhs), tensors.FlatData[bfloat16.BFloat16](rhs), tensors.FlatData[bfloat16.BFloat16](output))
	default:
		exceptions.Panicf("unsupported data type %s for %s", output.DType(), op.Name())
	}
}

func subInto(output, lhs, rhs *tensors.Tensor, op *dispatch.Operator) {
	switch output.DType() {
	case dtypes.Int8:
		execSubGeneric(tensors.FlatData[int8](lhs), tensors.FlatData[int8](rhs), tensors.FlatData[int8](output))
	case dtypes.Int16:
		execSubGeneric(tensors.FlatData[int16](lhs), tensors.FlatData[int16](rhs), tensors.FlatData[int16](output))
	case dtypes.Int32:
		execSubGeneric(tensors.FlatData[int32](lhs), tensors.FlatData[int32](rhs), tensors.FlatData[int32](output))
	case dtypes.Int64:
		execSubGeneric(tensors.FlatData[int64](lhs), tensors.FlatData[int64](rhs), tensors.FlatData[int64](output))
	case dtypes.Uint8:
		execSubGeneric(tensors.FlatData[uint8](lhs), tensors.FlatData[uint8](rhs), tensors.FlatData[uint8](output))
	case dtypes.Uint16:
		execSubGeneric(tensors.FlatData[uint16](lhs), tensors.FlatData[uint16](rhs), tensors.FlatData[uint16](output))
	case dtypes.Uint32:
		execSubGeneric(tensors.FlatData[uint32](lhs), tensors.FlatData[uint32](rhs), tensors.FlatData[uint32](output))
	case dtypes.Uint64:
		execSubGeneric(tensors.FlatData[uint64](lhs), tensors.FlatData[uint64](rhs), tensors.FlatData[uint64](output))
	case dtypes.Float32:
		execSubGeneric(tensors.FlatData[float32](lhs), tensors.FlatData[float32](rhs), tensors.FlatData[float32](output))
	case dtypes.Float64:
		execSubGeneric(tensors.FlatData[float64](lhs), tensors.FlatData[float64](rhs), tensors.FlatData[float64](output))
	case dtypes.Float16:
		execSubFloat16(tensors.FlatData[float16.Float16](lhs), tensors.FlatData[float16.Float16](rhs), tensors.FlatData[float16.Float16](output))
	case dtypes.BFloat16:
		execSubBFloat16(tensors.FlatData[bfloat16.BFloat16](lhs), tensors.FlatData[bfloat16.BFloat16](rhs), tensors.FlatData[bfloat16.BFloat16](output))
	default:
		exceptions.Panicf("unsupported data type %s for %s", output.DType(), op.Name())
	}
}

func mulInto(output, lhs, rhs *tensors.Tensor, op *dispatch.Operator) {
	switch output.DType() {
	case dtypes.Int8:
		execMulGeneric(tensors.FlatData[int8](lhs), tensors.FlatData[int8](rhs), tensors.FlatData[int8](output))
	case dtypes.Int16:
		execMulGeneric(tensors.FlatData[int16](lhs), tensors.FlatData[int16](rhs), tensors.FlatData[int16](output))
	case dtypes.Int32:
		execMulGeneric(tensors.FlatData[int32](lhs), tensors.FlatData[int32](rhs), tensors.FlatData[int32](output))
	case dtypes.Int64:
		execMulGeneric(tensors.FlatData[int64](lhs), tensors.FlatData[int64](rhs), tensors.FlatData[int64](output))
	case dtypes.Uint8:
		execMulGeneric(tensors.FlatData[uint8](lhs), tensors.FlatData[uint8](rhs), tensors.FlatData[uint8](output))
	case dtypes.Uint16:
		execMulGeneric(tensors.FlatData[uint16](lhs), tensors.FlatData[uint16](rhs), tensors.FlatData[uint16](output))
	case dtypes.Uint32:
		execMulGeneric(tensors.FlatData[uint32](lhs), tensors.FlatData[uint32](rhs), tensors.FlatData[uint32](output))
	case dtypes.Uint64:
		execMulGeneric(tensors.FlatData[uint64](lhs), tensors.FlatData[uint64](rhs), tensors.FlatData[uint64](output))
	case dtypes.Float32:
		execMulGeneric(tensors.FlatData[float32](lhs), tensors.FlatData[float32](rhs), tensors.FlatData[float32](output))
	case dtypes.Float64:
		execMulGeneric(tensors.FlatData[float64](lhs), tensors.FlatData[float64](rhs), tensors.FlatData[float64](output))
	case dtypes.Float16:
		execMulFloat16(tensors.FlatData[float16.Float16](lhs), tensors.FlatData[float16.Float16](rhs), tensors.FlatData[float16.Float16](output))
	case dtypes.BFloat16:
		execMulBFloat16(tensors.FlatData[bfloat16.BFloat16](lhs), tensors.FlatData[bfloat16.BFloat16](rhs), tensors.FlatData[bfloat16.BFloat16](output))
	default:
		exceptions.Panicf("unsupported data type %s for %s", output.DType(), op.Name())
	}
}

func addScalarInto(output, input *tensors.Tensor, value any, op *dispatch.Operator) error {
	switch output.DType() {
	case dtypes.Int8:
		return execAddScalarGeneric(tensors.FlatData[int8](input), tensors.FlatData[int8](output), value, op)
	case dtypes.Int16:
		return execAddScalarGeneric(tensors.FlatData[int16](input), tensors.FlatData[int16](output), value, op)
	case dtypes.Int32:
		return execAddScalarGeneric(tensors.FlatData[int32](input), tensors.FlatData[int32](output), value, op)
	case dtypes.Int64:
		return execAddScalarGeneric(tensors.FlatData[int64](input), tensors.FlatData[int64](output), value, op)
	case dtypes.Uint8:
		return execAddScalarGeneric(tensors.FlatData[uint8](input), tensors.FlatData[uint8](output), value, op)
	case dtypes.Uint16:
		return execAddScalarGeneric(tensors.FlatData[uint16](input), tensors.FlatData[uint16](output), value, op)
	case dtypes.Uint32:
		return execAddScalarGeneric(tensors.FlatData[uint32](input), tensors.FlatData[uint32](output), value, op)
	case dtypes.Uint64:
		return execAddScalarGeneric(tensors.FlatData[uint64](input), tensors.FlatData[uint64](output), value, op)
	case dtypes.Float32:
		return execAddScalarGeneric(tensors.FlatData[float32](input), tensors.FlatData[float32](output), value, op)
	case dtypes.Float64:
		return execAddScalarGeneric(tensors.FlatData[float64](input), tensors.FlatData[float64](output), value, op)
	case dtypes.Float16:
		return execAddScalarFloat16(tensors.FlatData[float16.Float16](input), tensors.FlatData[float16.Float16](output), value, op)
	case dtypes.BFloat16:
		return execAddScalarBFloat16(tensors.FlatData[bfloat16.BFloat16](input), tensors.FlatData[bfloat16.BFloat16](output), value, op)
	default:
		exceptions.Panicf("unsupported data type %s for %s", output.DType(), op.Name())
	}
	return nil
}

func execAddGeneric[T podNumericConstraints](lhs, rhs, outputs []T) {
	for ii := range outputs {
		outputs[ii] = lhs[ii] + rhs[ii]
	}
}

func execSubGeneric[T podNumericConstraints](lhs, rhs, outputs []T) {
	for ii := range outputs {
		outputs[ii] = lhs[ii] - rhs[ii]
	}
}

func execMulGeneric[T podNumericConstraints](lhs, rhs, outputs []T) {
	for ii := range outputs {
		outputs[ii] = lhs[ii] * rhs[ii]
	}
}

func execAddFloat16(lhs, rhs, outputs []float16.Float16) {
	for ii := range outputs {
		outputs[ii] = float16.Fromfloat32(lhs[ii].Float32() + rhs[ii].Float32())
	}
}

func execSubFloat16(lhs, rhs, outputs []float16.Float16) {
	for ii := range outputs {
		outputs[ii] = float16.Fromfloat32(lhs[ii].Float32() - rhs[ii].Float32())
	}
}

func execMulFloat16(lhs, rhs, outputs []float16.Float16) {
	for ii := range outputs {
		outputs[ii] = float16.Fromfloat32(lhs[ii].Float32() * rhs[ii].Float32())
	}
}

func execAddBFloat16(lhs, rhs, outputs []bfloat16.BFloat16) {
	for ii := range outputs {
		outputs[ii] = bfloat16.FromFloat32(lhs[ii].Float32() + rhs[ii].Float32())
	}
}

func execSubBFloat16(lhs, rhs, outputs []bfloat16.BFloat16) {
	for ii := range outputs {
		outputs[ii] = bfloat16.FromFloat32(lhs[ii].Float32() - rhs[ii].Float32())
	}
}

func execMulBFloat16(lhs, rhs, outputs []bfloat16.BFloat16) {
	for ii := range outputs {
		outputs[ii] = bfloat16.FromFloat32(lhs[ii].Float32() * rhs[ii].Float32())
	}
}

func execAddScalarGeneric[T podNumericConstraints](inputs, outputs []T, value any, op *dispatch.Operator) error {
	v, ok := value.(T)
	if !ok {
		return errors.Errorf("%s: scalar value is a %T, tensor dtype %s requires %T",
			op.Name(), value, dtypes.FromGenericsType[T](), v)
	}
	for ii, input := range inputs {
		outputs[ii] = input + v
	}
	return nil
}

func execAddScalarFloat16(inputs, outputs []float16.Float16, value any, op *dispatch.Operator) error {
	v, ok := value.(float16.Float16)
	if !ok {
		return errors.Errorf("%s: scalar value is a %T, tensor dtype Float16 requires float16.Float16",
			op.Name(), value)
	}
	f := v.Float32()
	for ii, input := range inputs {
		outputs[ii] = float16.Fromfloat32(input.Float32() + f)
	}
	return nil
}

func execAddScalarBFloat16(inputs, outputs []bfloat16.BFloat16, value any, op *dispatch.Operator) error {
	v, ok := value.(bfloat16.BFloat16)
	if !ok {
		return errors.Errorf("%s: scalar value is a %T, tensor dtype BFloat16 requires bfloat16.BFloat16",
			op.Name(), value)
	}
	f := v.Float32()
	for ii, input := range inputs {
		outputs[ii] = bfloat16.FromFloat32(input.Float32() + f)
	}
	return nil
}
