package fallback

import (
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/pkg/errors"
)

// The stack adapter enumerates the tensor-like values of a call from its
// schema: plain tensor slots, present optional slots and the elements of
// list slots, always in declaration order. Slot kinds the adapter cannot
// enumerate tensors from are rejected before anything touches the stack.

// checkCall verifies the stack layout matches the operator's schema and that
// every slot is of a kind the adapter can serve. A call that fails here has
// not been modified in any way.
func checkCall(op *dispatch.Operator, stack *dispatch.Stack) error {
	schema := op.Schema()
	if stack.NumInputs() != len(schema.Params) {
		return errors.Errorf("%s expects %d arguments, call carries %d",
			op.Name(), len(schema.Params), stack.NumInputs())
	}
	for i := range schema.Params {
		param := &schema.Params[i]
		if param.Kind == dispatch.ParamOptionalTensorList {
			return errors.Errorf("%s: unsupported argument shape: parameter %q is an %s, tensors nested in it cannot be enumerated",
				op.Name(), param.Name, param.Kind)
		}
		if !kindMatches(param.Kind, stack.Input(i).Kind()) {
			return errors.Errorf("%s: argument %q must be a %s, got a %s value",
				op.Name(), param.Name, param.Kind, stack.Input(i).Kind())
		}
	}
	for i := range schema.Returns {
		if schema.Returns[i].Kind == dispatch.ParamOptionalTensorList {
			return errors.Errorf("%s: unsupported argument shape: return #%d is an %s, tensors nested in it cannot be enumerated",
				op.Name(), i, schema.Returns[i].Kind)
		}
	}
	return nil
}

func kindMatches(p dispatch.ParamKind, v dispatch.ValueKind) bool {
	switch p {
	case dispatch.ParamScalar:
		return v == dispatch.ValueScalar
	case dispatch.ParamTensor:
		return v == dispatch.ValueTensor
	case dispatch.ParamOptionalTensor:
		return v == dispatch.ValueOptionalTensor
	case dispatch.ParamTensorList:
		return v == dispatch.ValueTensorList
	}
	return false
}

// visitInputTensors calls fn for every tensor-like value reachable from the
// input slots, in declaration order. Scalar slots and absent optionals are
// skipped. The stack is not modified.
func visitInputTensors(op *dispatch.Operator, stack *dispatch.Stack, fn func(param *dispatch.Param, t dispatch.TensorLike) error) error {
	params := op.Schema().Params
	for i := range params {
		param := &params[i]
		v := stack.Input(i)
		switch v.Kind() {
		case dispatch.ValueTensor:
			if err := fn(param, v.Tensor()); err != nil {
				return err
			}
		case dispatch.ValueOptionalTensor:
			if !v.IsPresent() {
				continue
			}
			if err := fn(param, v.Tensor()); err != nil {
				return err
			}
		case dispatch.ValueTensorList:
			for _, t := range v.List() {
				if err := fn(param, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// mapInputTensors rewrites every tensor-like value reachable from the input
// slots with fn, in declaration order, preserving each slot's declared kind:
// plain and optional slots have their content replaced by fn's result, list
// slots are rebuilt with the mapped elements. Scalar slots and absent
// optionals are untouched.
func mapInputTensors(op *dispatch.Operator, stack *dispatch.Stack, fn func(param *dispatch.Param, t dispatch.TensorLike) (dispatch.TensorLike, error)) error {
	params := op.Schema().Params
	for i := range params {
		param := &params[i]
		v := stack.Input(i)
		switch v.Kind() {
		case dispatch.ValueTensor:
			mapped, err := fn(param, v.Tensor())
			if err != nil {
				return err
			}
			stack.SetInput(i, dispatch.TensorValue(mapped))
		case dispatch.ValueOptionalTensor:
			if !v.IsPresent() {
				continue
			}
			mapped, err := fn(param, v.Tensor())
			if err != nil {
				return err
			}
			stack.SetInput(i, dispatch.OptionalTensor(mapped))
		case dispatch.ValueTensorList:
			list := v.List()
			mapped := make([]dispatch.TensorLike, len(list))
			for j, t := range list {
				m, err := fn(param, t)
				if err != nil {
					return err
				}
				mapped[j] = m
			}
			stack.SetInput(i, dispatch.TensorList(mapped...))
		}
	}
	return nil
}
