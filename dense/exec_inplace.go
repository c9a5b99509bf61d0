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

// In-place operators write through their first operand and return the very
// same handle, so callers holding the input observe the mutation.

func execAddInPlace(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	self, other, err := binaryOperands(op, stack)
	if err != nil {
		return err
	}
	addInto(self, self, other, op)
	stack.PushOutput(dispatch.TensorValue(self))
	return nil
}

func execCopy(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	self, src, err := binaryOperands(op, stack)
	if err != nil {
		return err
	}
	if err := self.CopyFrom(src); err != nil {
		return errors.WithMessage(err, op.Name())
	}
	stack.PushOutput(dispatch.TensorValue(self))
	return nil
}

func execFill(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	self, err := tensorOperand(op, stack, 0)
	if err != nil {
		return err
	}
	value := stack.Input(1).ScalarValue()
	if err := fillInto(self, value, op); err != nil {
		return err
	}
	stack.PushOutput(dispatch.TensorValue(self))
	return nil
}

func fillInto(self *tensors.Tensor, value any, op *dispatch.Operator) error {
	switch self.DType() {
	case dtypes.Bool:
		return execFillGeneric(tensors.FlatData[bool](self), value, op)
	case dtypes.Int8:
		return execFillGeneric(tensors.FlatData[int8](self), value, op)
	case dtypes.Int16:
		return execFillGeneric(tensors.FlatData[int16](self), value, op)
	case dtypes.Int32:
		return execFillGeneric(tensors.FlatData[int32](self), value, op)
	case dtypes.Int64:
		return execFillGeneric(tensors.FlatData[int64](self), value, op)
	case dtypes.Uint8:
		return execFillGeneric(tensors.FlatData[uint8](self), value, op)
	case dtypes.Uint16:
		return execFillGeneric(tensors.FlatData[uint16](self), value, op)
	case dtypes.Uint32:
		return execFillGeneric(tensors.FlatData[uint32](self), value, op)
	case dtypes.Uint64:
		return execFillGeneric(tensors.FlatData[uint64](self), value, op)
	case dtypes.Float32:
		return execFillGeneric(tensors.FlatData[float32](self), value, op)
	case dtypes.Float64:
		return execFillGeneric(tensors.FlatData[float64](self), value, op)
	case dtypes.Float16:
		return execFillGeneric(tensors.FlatData[float16.Float16](self), value, op)
	case dtypes.BFloat16:
		return execFillGeneric(tensors.FlatData[bfloat16.BFloat16](self), value, op)
	default:
		exceptions.Panicf("unsupported data type %s for %s", self.DType(), op.Name())
	}
	return nil
}

func execFillGeneric[T dtypes.Supported](outputs []T, value any, op *dispatch.Operator) error {
	v, ok := value.(T)
	if !ok {
		return errors.Errorf("%s: scalar value is a %T, tensor dtype %s requires %T",
			op.Name(), value, dtypes.FromGenericsType[T](), v)
	}
	for ii := range outputs {
		outputs[ii] = v
	}
	return nil
}
