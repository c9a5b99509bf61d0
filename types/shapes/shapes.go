// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of a tensor handled by
// the go-dispatch runtime. DType indicates the type of the unit element of a
// tensor, and is the enumeration defined in github.com/gomlx/gopjrt/dtypes.
//
// Tensors in this runtime are always dense and contiguous (row-major), so a Shape
// fully determines the flat storage layout: Shape.Size() elements of DType.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a tensor in one of its axes.
//   - Scalar: a shape with no axes (rank 0), holding a single value of the
//     associated DType.
//
// Example: the multi-dimensional array `[][]int32{{0, 1, 2}, {3, 4, 5}}` has
// shape `(Int32)[2 3]`: rank 2, axis 0 has dimension 2 and axis 1 has dimension 3.
// It could be created with `shapes.Make(dtypes.Int32, 2, 3)`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a tensor, or the declared shape of a value
// placed on an operator call stack.
//
// Use Make to create a new shape. See example in package shapes documentation.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
// It panics if any dimension is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T dtypes.NumberNotComplex]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" Shape{} value is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar: no dimensions (rank 0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in
// which case it counts from the end -- so axis=-1 refers to the last axis.
// It panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements fmt.Stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType needed for this shape.
// It's the product of all dimensions, and 1 for scalars.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes needed to store an array of the given shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	if s.Rank() != s2.Rank() {
		return false
	}
	if s.IsScalar() {
		return true
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions only -- the
// DTypes may differ.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.Rank() != s2.Rank() {
		return false
	}
	return s.IsScalar() || slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// HasShape is an interface for objects that have an associated Shape: tensors
// but also Shape itself (returning a copy of itself).
type HasShape interface {
	Shape() Shape
}

// CheckReshape verifies that a shape with the given dimensions is a valid
// aliasing view of s: the total sizes must match. It returns the resulting
// shape or an error.
func CheckReshape(s Shape, dimensions ...int) (Shape, error) {
	newShape := Shape{DType: s.DType, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			return Invalid(), errors.Errorf("reshape of %s to %v: dimensions must be > 0", s, dimensions)
		}
	}
	if newShape.Size() != s.Size() {
		return Invalid(), errors.Errorf("reshape of %s (size %d) to %v (size %d): sizes must match",
			s, s.Size(), dimensions, newShape.Size())
	}
	return newShape, nil
}

// ConcatenateShapes returns the shape resulting from concatenating the given
// shapes along the given axis. All shapes must have the same DType, the same
// rank and matching dimensions everywhere except on axis.
func ConcatenateShapes(axis int, shapeList ...Shape) (Shape, error) {
	if len(shapeList) == 0 {
		return Invalid(), errors.Errorf("concatenate requires at least one operand")
	}
	result := shapeList[0].Clone()
	if axis < 0 || axis >= result.Rank() {
		return Invalid(), errors.Errorf("concatenate axis %d out-of-bounds for rank %d", axis, result.Rank())
	}
	for ii, s := range shapeList[1:] {
		if s.DType != result.DType || s.Rank() != result.Rank() {
			return Invalid(), errors.Errorf("concatenate operand #%d has shape %s, incompatible with %s",
				ii+1, s, shapeList[0])
		}
		for otherAxis := range s.Dimensions {
			if otherAxis == axis {
				continue
			}
			if s.Dimensions[otherAxis] != result.Dimensions[otherAxis] {
				return Invalid(), errors.Errorf("concatenate operand #%d has shape %s, dimensions must match %s on all axes but %d",
					ii+1, s, shapeList[0], axis)
			}
		}
		result.Dimensions[axis] += s.Dimensions[axis]
	}
	return result, nil
}

// Strings converts a list of shapes to their string representation, for error
// messages.
func Strings(shapeList []Shape) string {
	parts := make([]string, 0, len(shapeList))
	for _, s := range shapeList {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ", ")
}
