package dense

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// execNeg executes the unary op Neg on a fresh output.
func execNeg(_ *dispatch.Dispatcher, op *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
	input, err := tensorOperand(op, stack, 0)
	if err != nil {
		return err
	}
	output := tensors.FromShape(input.Shape())
	negInto(output, input, op)
	stack.PushOutput(dispatch.TensorValue(output))
	return nil
}

// negInto writes the elementwise negation of input into output. The tensors
// may alias. It panics on dtypes with no negation loop.
func negInto(output, input *tensors.Tensor, op *dispatch.Operator) {
	switch input.DType() {
	case dtypes.Int8:
		execNegGeneric(tensors.FlatData[int8](input), tensors.FlatData[int8](output))
	case dtypes.Int16:
		execNegGeneric(tensors.FlatData[int16](input), tensors.FlatData[int16](output))
	case dtypes.Int32:
		execNegGeneric(tensors.FlatData[int32](input), tensors.FlatData[int32](output))
	case dtypes.Int64:
		execNegGeneric(tensors.FlatData[int64](input), tensors.FlatData[int64](output))
	case dtypes.Uint8:
		execNegGeneric(tensors.FlatData[uint8](input), tensors.FlatData[uint8](output))
	case dtypes.Uint16:
		execNegGeneric(tensors.FlatData[uint16](input), tensors.FlatData[uint16](output))
	case dtypes.Uint32:
		execNegGeneric(tensors.FlatData[uint32](input), tensors.FlatData[uint32](output))
	case dtypes.Uint64:
		execNegGeneric(tensors.FlatData[uint64](input), tensors.FlatData[uint64](output))
	case dtypes.Float32:
		execNegGeneric(tensors.FlatData[float32](input), tensors.FlatData[float32](output))
	case dtypes.Float64:
		execNegGeneric(tensors.FlatData[float64](input), tensors.FlatData[float64](output))
	case dtypes.Float16:
		execNegFloat16(tensors.FlatData[float16.Float16](input), tensors.FlatData[float16.Float16](output))
	case dtypes.BFloat16:
		execNegBFloat16(tensors.FlatData[bfloat16.BFloat16](input), tensors.FlatData[bfloat16.BFloat16](output))
	default:
		exceptions.Panicf("unsupported data type %s for %s", input.DType(), op.Name())
	}
}

func execNegGeneric[T podNumericConstraints](inputs, outputs []T) {
	for ii, input := range inputs {
		outputs[ii] = -input
	}
}

func execNegFloat16(inputs, outputs []float16.Float16) {
	for ii, input := range inputs {
		outputs[ii] = float16.Fromfloat32(-input.Float32())
	}
}

func execNegBFloat16(inputs, outputs []bfloat16.BFloat16) {
	for ii, input := range inputs {
		outputs[ii] = bfloat16.FromFloat32(-input.Float32())
	}
}
