package dispatch

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// TensorLike is the view the Dispatcher has of a tensor: enough to derive
// dispatch keys and print traces. Kernels type-assert it back to the
// concrete tensor type they operate on.
type TensorLike interface {
	// Keys returns the dispatch keys the tensor carries.
	Keys() KeySet

	fmt.Stringer
}

// ValueKind discriminates the payload of a Value. It mirrors ParamKind for
// the kinds a call slot can actually hold.
type ValueKind int

const (
	ValueInvalid ValueKind = iota
	ValueScalar
	ValueTensor
	ValueOptionalTensor
	ValueTensorList
)

var valueKindNames = [...]string{
	ValueInvalid:        "Invalid",
	ValueScalar:         "Scalar",
	ValueTensor:         "Tensor",
	ValueOptionalTensor: "OptionalTensor",
	ValueTensorList:     "TensorList",
}

// String implements fmt.Stringer.
func (k ValueKind) String() string {
	if k < 0 || int(k) >= len(valueKindNames) {
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
	return valueKindNames[k]
}

// Value is one type-erased slot of a call stack: a scalar, a tensor, an
// optional tensor or a list of tensors. Build values with Scalar,
// TensorValue, OptionalTensor or TensorList; the zero Value is invalid.
type Value struct {
	kind   ValueKind
	scalar any
	tensor TensorLike
	list   []TensorLike
}

// Scalar returns a Value carrying a plain payload: a Go scalar, a dimensions
// slice, an axis, anything that holds no tensors.
func Scalar(payload any) Value {
	return Value{kind: ValueScalar, scalar: payload}
}

// TensorValue returns a Value carrying one tensor. The tensor must not be
// nil.
func TensorValue(t TensorLike) Value {
	if t == nil {
		exceptions.Panicf("dispatch.TensorValue: tensor must not be nil, use OptionalTensor for absent values")
	}
	return Value{kind: ValueTensor, tensor: t}
}

// OptionalTensor returns a Value carrying one tensor or, if t is nil, an
// absent value.
func OptionalTensor(t TensorLike) Value {
	return Value{kind: ValueOptionalTensor, tensor: t}
}

// TensorList returns a Value carrying a list of tensors. The list may be
// empty; elements must not be nil.
func TensorList(tensors ...TensorLike) Value {
	for i, t := range tensors {
		if t == nil {
			exceptions.Panicf("dispatch.TensorList: element #%d is nil", i)
		}
	}
	return Value{kind: ValueTensorList, list: tensors}
}

// Kind returns the kind of payload the value carries.
func (v Value) Kind() ValueKind { return v.kind }

// IsValid reports whether the value was built by one of the constructors.
func (v Value) IsValid() bool { return v.kind != ValueInvalid }

// ScalarValue returns the plain payload. It panics if the value is not a
// ValueScalar.
func (v Value) ScalarValue() any {
	if v.kind != ValueScalar {
		exceptions.Panicf("Value.ScalarValue called on a %s value", v.kind)
	}
	return v.scalar
}

// Tensor returns the tensor payload. It panics if the value is not a
// ValueTensor or a present ValueOptionalTensor.
func (v Value) Tensor() TensorLike {
	if v.kind != ValueTensor && v.kind != ValueOptionalTensor {
		exceptions.Panicf("Value.Tensor called on a %s value", v.kind)
	}
	if v.tensor == nil {
		exceptions.Panicf("Value.Tensor called on an absent optional tensor")
	}
	return v.tensor
}

// IsPresent reports whether an optional tensor value holds a tensor. It
// returns true for all other valid kinds.
func (v Value) IsPresent() bool {
	if v.kind == ValueOptionalTensor {
		return v.tensor != nil
	}
	return v.kind != ValueInvalid
}

// List returns the tensor list payload. It panics if the value is not a
// ValueTensorList. The returned slice is the value's backing storage, treat
// it as read-only.
func (v Value) List() []TensorLike {
	if v.kind != ValueTensorList {
		exceptions.Panicf("Value.List called on a %s value", v.kind)
	}
	return v.list
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.kind {
	case ValueScalar:
		return fmt.Sprintf("%v", v.scalar)
	case ValueTensor:
		return v.tensor.String()
	case ValueOptionalTensor:
		if v.tensor == nil {
			return "(absent)"
		}
		return v.tensor.String()
	case ValueTensorList:
		return fmt.Sprintf("[%d tensors]", len(v.list))
	}
	return "(invalid)"
}

// Stack carries the arguments and return values of one operator call.
// Inputs are laid out one per schema parameter and are fixed in number;
// kernels push one output per schema return. A Stack is used by a single
// call at a time.
type Stack struct {
	in  []Value
	out []Value
}

// NewStack returns a Stack loaded with the given arguments, one per schema
// parameter, in declaration order.
func NewStack(inputs ...Value) *Stack {
	return &Stack{in: inputs}
}

// NumInputs returns the number of argument slots.
func (s *Stack) NumInputs() int { return len(s.in) }

// Input returns the i-th argument slot.
func (s *Stack) Input(i int) Value { return s.in[i] }

// SetInput replaces the contents of the i-th argument slot. The caller is
// responsible for keeping the slot's declared kind.
func (s *Stack) SetInput(i int, v Value) { s.in[i] = v }

// NumOutputs returns the number of return slots pushed so far.
func (s *Stack) NumOutputs() int { return len(s.out) }

// Output returns the i-th return slot.
func (s *Stack) Output(i int) Value { return s.out[i] }

// SetOutput replaces the contents of the i-th return slot.
func (s *Stack) SetOutput(i int, v Value) { s.out[i] = v }

// PushOutput appends a return slot. Kernels push exactly one output per
// schema return, in declaration order.
func (s *Stack) PushOutput(v Value) { s.out = append(s.out, v) }

// InputKeys returns the union of the dispatch keys of every tensor reachable
// from the argument slots.
func (s *Stack) InputKeys() KeySet {
	var ks KeySet
	for _, v := range s.in {
		switch v.kind {
		case ValueTensor:
			ks |= v.tensor.Keys()
		case ValueOptionalTensor:
			if v.tensor != nil {
				ks |= v.tensor.Keys()
			}
		case ValueTensorList:
			for _, t := range v.list {
				ks |= t.Keys()
			}
		}
	}
	return ks
}
