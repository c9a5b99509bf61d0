// Package tensors implements Tensor, the dense multi-dimensional array value
// the go-dispatch runtime operates on.
//
// A Tensor is a handle: it pairs a shape and a set of dispatch keys with a
// reference to flat, contiguous (row-major) storage. Handles may alias: the
// views returned by Tensor.Reshape, Tensor.Flatten and Tensor.WithKeys share
// the storage of the tensor they were created from, and writes through one
// handle are visible through all of them. Handle identity is what in-place
// operators preserve: they return the same *Tensor they were given, with the
// contents updated.
//
// Ways to construct a Tensor:
//
//   - FromShape(shape): zero-initialized tensor of the given shape.
//   - FromScalar(value): scalar tensor, DType inferred from the value.
//   - FromScalarAndDimensions(value, dimensions...): filled with value.
//   - FromFlatDataAndDimensions(data, dimensions...): contents copied from
//     the flat slice given.
//
// Every constructor returns a tensor carrying dispatch.KeyDense. Interception
// layers (see packages flatview and negview) mark tensors with their keys
// through views.
package tensors

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Tensor is a handle to dense tensor data. See the package documentation for
// the aliasing and identity semantics.
type Tensor struct {
	shape shapes.Shape
	keys  dispatch.KeySet

	// flat is a slice of the dtype's Go type ([]float32 for Float32, ...),
	// shared between aliasing handles.
	flat any
}

// Compile-time check: *Tensor is what the dispatcher routes on.
var _ dispatch.TensorLike = (*Tensor)(nil)

// FromShape returns a zero-initialized tensor of the given shape, carrying
// the dense dispatch key. It panics on an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape: invalid shape %s", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		keys:  dispatch.KeySetWith(dispatch.KeyDense),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// FromScalar returns a scalar tensor holding value. The DType is inferred
// from the Go type of value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions returns a tensor of the given dimensions with every
// element set to value. The DType is inferred from the Go type of value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions returns a tensor of the given dimensions with the
// flattened contents copied from data. The DType is inferred from the element
// type of data. It panics if len(data) doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): got %d values, shape requires %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// Shape of the tensor. The returned value is owned by the tensor, treat it as
// read-only.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements stored.
func (t *Tensor) Size() int { return t.shape.Size() }

// Rank is the number of axes.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Keys returns the dispatch keys the handle carries. It implements
// dispatch.TensorLike.
func (t *Tensor) Keys() dispatch.KeySet { return t.keys }

// WithKeys returns a view of t carrying the given dispatch keys: a new handle
// aliasing t's storage. t itself is unchanged.
func (t *Tensor) WithKeys(keys dispatch.KeySet) *Tensor {
	return &Tensor{shape: t.shape.Clone(), keys: keys, flat: t.flat}
}

// Reshape returns a view of t with the given dimensions: a new handle
// aliasing t's storage and carrying t's keys. The total size must not change.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	shape, err := shapes.CheckReshape(t.shape, dimensions...)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: shape, keys: t.keys, flat: t.flat}, nil
}

// Flatten returns a rank-1 view of t: a new handle aliasing t's storage with
// the axes collapsed into one.
func (t *Tensor) Flatten() *Tensor {
	return &Tensor{
		shape: shapes.Make(t.shape.DType, t.shape.Size()),
		keys:  t.keys,
		flat:  t.flat,
	}
}

// Clone returns a tensor with freshly allocated storage holding a copy of
// t's contents, with the same shape and keys.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape)
	clone.keys = t.keys
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// CopyFrom overwrites t's storage with src's contents. The handle (and with
// it every view of t) is preserved, only the stored values change; keys are
// not copied. The shapes must match exactly, reshape src first to reconcile
// layouts.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return errors.Errorf("Tensor.CopyFrom: cannot copy %s into %s, shapes must match", src.shape, t.shape)
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(src.flat))
	return nil
}

// SharesStorage reports whether t and other alias the same backing storage.
func (t *Tensor) SharesStorage(other *Tensor) bool {
	if t.flat == nil || other.flat == nil || t.shape.DType != other.shape.DType {
		return false
	}
	return reflect.ValueOf(t.flat).Pointer() == reflect.ValueOf(other.flat).Pointer()
}

// FlatAny returns the backing storage as the dtype's slice type, erased to
// any. Prefer the typed FlatData; FlatAny serves dtype-generic code that
// copies storage through reflection.
func (t *Tensor) FlatAny() any { return t.flat }

// MaxSizeForString is the largest tensor Tensor.String prints the values of.
var MaxSizeForString = 32

// String implements fmt.Stringer: shape, keys and, for small tensors, the
// flattened values.
func (t *Tensor) String() string {
	if t.flat == nil {
		return "Tensor(nil)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s", t.shape, t.keys)
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() > MaxSizeForString {
		fmt.Fprintf(&b, ": (%d values)", flatV.Len())
		return b.String()
	}
	b.WriteString(": [")
	for ii := range flatV.Len() {
		if ii > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v", flatV.Index(ii).Interface())
	}
	b.WriteByte(']')
	return b.String()
}

// FlatData returns the tensor's backing storage as a slice of its dtype's Go
// type. The slice is the storage itself: views share it and writes to it are
// seen by every aliasing handle. It panics if T doesn't match the tensor's
// dtype.
func FlatData[T dtypes.Supported](t *Tensor) []T {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("tensors.FlatData[%T] is incompatible with tensor dtype %s", v, t.shape.DType)
	}
	return t.flat.([]T)
}

// CopyFlatData returns a copy of the tensor's flattened contents. It panics
// if T doesn't match the tensor's dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	return slices.Clone(FlatData[T](t))
}

// ToScalar returns the value of a scalar tensor. It panics if the tensor is
// not a scalar or if T doesn't match its dtype.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.shape.IsScalar() {
		var v T
		exceptions.Panicf("tensors.ToScalar[%T] requires a scalar tensor, got shape %s", v, t.shape)
	}
	return FlatData[T](t)[0]
}
