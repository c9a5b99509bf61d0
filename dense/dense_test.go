package dense

import (
	"sync"
	"testing"

	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/gomlx/go-dispatch/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	d := dispatch.New()
	require.NoError(t, Install(d))
	return d
}

// call runs an operator expecting a single tensor output.
func call(t *testing.T, d *dispatch.Dispatcher, op dispatch.OpType, inputs ...dispatch.Value) *tensors.Tensor {
	stack := dispatch.NewStack(inputs...)
	require.NoError(t, d.Call(op, stack))
	require.Equal(t, 1, stack.NumOutputs())
	return stack.Output(0).Tensor().(*tensors.Tensor)
}

func TestInstall(t *testing.T) {
	d := newDispatcher(t)
	for _, op := range d.Operators() {
		require.Truef(t, op.HasKernel(dispatch.KeyDense), "operator %s has no dense kernel", op.Name())
	}
}

func TestBinaryOps(t *testing.T) {
	d := newDispatcher(t)
	lhs := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	rhs := tensors.FromFlatDataAndDimensions([]float32{10, 20, 30, 40}, 2, 2)
	testCases := []struct {
		op   dispatch.OpType
		want []float32
	}{
		{dispatch.OpTypeAdd, []float32{11, 22, 33, 44}},
		{dispatch.OpTypeSub, []float32{-9, -18, -27, -36}},
		{dispatch.OpTypeMul, []float32{10, 40, 90, 160}},
	}
	for _, tc := range testCases {
		t.Run(tc.op.String(), func(t *testing.T) {
			got := call(t, d, tc.op, dispatch.TensorValue(lhs), dispatch.TensorValue(rhs))
			require.Equal(t, tc.want, tensors.FlatData[float32](got))
			require.False(t, got.SharesStorage(lhs))
			require.Equal(t, dispatch.KeySetWith(dispatch.KeyDense), got.Keys())
		})
	}
	// Inputs are left untouched.
	require.Equal(t, []float32{1, 2, 3, 4}, tensors.FlatData[float32](lhs))
}

func TestBinaryOpsIntegers(t *testing.T) {
	d := newDispatcher(t)
	lhs := tensors.FromFlatDataAndDimensions([]int64{7, -3, 0}, 3)
	rhs := tensors.FromFlatDataAndDimensions([]int64{1, 5, -2}, 3)
	got := call(t, d, dispatch.OpTypeMul, dispatch.TensorValue(lhs), dispatch.TensorValue(rhs))
	require.Equal(t, []int64{7, -15, 0}, tensors.FlatData[int64](got))
}

func TestHalfPrecision(t *testing.T) {
	d := newDispatcher(t)
	lhs := tensors.FromFlatDataAndDimensions(
		[]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}, 2)
	rhs := tensors.FromFlatDataAndDimensions(
		[]float16.Float16{float16.Fromfloat32(0.25), float16.Fromfloat32(4)}, 2)
	got := call(t, d, dispatch.OpTypeAdd, dispatch.TensorValue(lhs), dispatch.TensorValue(rhs))
	flat := tensors.FlatData[float16.Float16](got)
	require.Equal(t, float32(1.75), flat[0].Float32())
	require.Equal(t, float32(2), flat[1].Float32())
}

func TestNeg(t *testing.T) {
	d := newDispatcher(t)
	input := tensors.FromFlatDataAndDimensions([]int32{1, -2, 3}, 3)
	got := call(t, d, dispatch.OpTypeNeg, dispatch.TensorValue(input))
	require.Equal(t, []int32{-1, 2, -3}, tensors.FlatData[int32](got))
	require.Equal(t, []int32{1, -2, 3}, tensors.FlatData[int32](input))
}

func TestNegUnsupportedDType(t *testing.T) {
	d := newDispatcher(t)
	input := tensors.FromShape(shapes.Make(dtypes.Bool, 2))
	stack := dispatch.NewStack(dispatch.TensorValue(input))
	require.Panics(t, func() { _ = d.Call(dispatch.OpTypeNeg, stack) })
}

func TestAddScalar(t *testing.T) {
	d := newDispatcher(t)
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	got := call(t, d, dispatch.OpTypeAddScalar,
		dispatch.TensorValue(input), dispatch.Scalar(float32(0.5)))
	require.Equal(t, []float32{1.5, 2.5}, tensors.FlatData[float32](got))

	// The scalar's Go type must match the tensor's dtype.
	stack := dispatch.NewStack(dispatch.TensorValue(input), dispatch.Scalar(int(3)))
	err := d.Call(dispatch.OpTypeAddScalar, stack)
	require.ErrorContains(t, err, "scalar value is a int")
}

func TestAddInPlace(t *testing.T) {
	d := newDispatcher(t)
	self := tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	view := self.Flatten()
	other := tensors.FromFlatDataAndDimensions([]float64{10, 10, 10, 10}, 2, 2)

	got := call(t, d, dispatch.OpTypeAddInPlace, dispatch.TensorValue(self), dispatch.TensorValue(other))
	require.Same(t, self, got)
	require.Equal(t, []float64{11, 12, 13, 14}, tensors.FlatData[float64](self))
	// Aliasing views observe the write.
	require.Equal(t, []float64{11, 12, 13, 14}, tensors.FlatData[float64](view))
}

func TestCopy(t *testing.T) {
	d := newDispatcher(t)
	self := tensors.FromShape(shapes.Make(dtypes.Int32, 2, 2))
	src := tensors.FromFlatDataAndDimensions([]int32{5, 6, 7, 8}, 2, 2)
	got := call(t, d, dispatch.OpTypeCopy, dispatch.TensorValue(self), dispatch.TensorValue(src))
	require.Same(t, self, got)
	require.Equal(t, []int32{5, 6, 7, 8}, tensors.FlatData[int32](self))

	// Shape mismatch surfaces as an error, not a panic.
	bad := tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2)
	stack := dispatch.NewStack(dispatch.TensorValue(self), dispatch.TensorValue(bad))
	require.ErrorContains(t, d.Call(dispatch.OpTypeCopy, stack), "same shape")
}

func TestFill(t *testing.T) {
	d := newDispatcher(t)
	self := tensors.FromFlatDataAndDimensions([]uint8{1, 2, 3}, 3)
	got := call(t, d, dispatch.OpTypeFill, dispatch.TensorValue(self), dispatch.Scalar(uint8(9)))
	require.Same(t, self, got)
	require.Equal(t, []uint8{9, 9, 9}, tensors.FlatData[uint8](self))

	// Fill works for non-numeric dtypes too.
	flags := tensors.FromShape(shapes.Make(dtypes.Bool, 2))
	call(t, d, dispatch.OpTypeFill, dispatch.TensorValue(flags), dispatch.Scalar(true))
	require.Equal(t, []bool{true, true}, tensors.FlatData[bool](flags))
}

func TestClone(t *testing.T) {
	d := newDispatcher(t)
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	got := call(t, d, dispatch.OpTypeClone, dispatch.TensorValue(input))
	require.NotSame(t, input, got)
	require.False(t, got.SharesStorage(input))
	require.Equal(t, []float32{1, 2, 3, 4}, tensors.FlatData[float32](got))

	// Fresh outputs carry only the dense key, even when inputs are marked.
	marked := input.WithKeys(input.Keys().Add(dispatch.KeyFlatView))
	stack := dispatch.NewStack(dispatch.TensorValue(marked))
	require.NoError(t, d.CallWithKeys(dispatch.OpTypeClone, dispatch.KeySetWith(dispatch.KeyDense), stack))
	clone := stack.Output(0).Tensor().(*tensors.Tensor)
	require.Equal(t, dispatch.KeySetWith(dispatch.KeyDense), clone.Keys())
}

func TestConcatenate(t *testing.T) {
	d := newDispatcher(t)
	a := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlatDataAndDimensions([]int32{5, 6}, 1, 2)
	got := call(t, d, dispatch.OpTypeConcatenate,
		dispatch.TensorList(a, b), dispatch.Scalar(0))
	require.Equal(t, []int{3, 2}, got.Shape().Dimensions)
	require.Equal(t, []int32{1, 2, 3, 4, 5, 6}, tensors.FlatData[int32](got))

	c := tensors.FromFlatDataAndDimensions([]int32{7, 8}, 2, 1)
	got = call(t, d, dispatch.OpTypeConcatenate,
		dispatch.TensorList(a, c), dispatch.Scalar(1))
	require.Equal(t, []int{2, 3}, got.Shape().Dimensions)
	require.Equal(t, []int32{1, 2, 7, 3, 4, 8}, tensors.FlatData[int32](got))
}

func TestConcatenateErrors(t *testing.T) {
	d := newDispatcher(t)
	a := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlatDataAndDimensions([]int32{5, 6, 7}, 3)

	stack := dispatch.NewStack(dispatch.TensorList(a, b), dispatch.Scalar(0))
	require.ErrorContains(t, d.Call(dispatch.OpTypeConcatenate, stack), "incompatible")

	stack = dispatch.NewStack(dispatch.TensorList(a), dispatch.Scalar(7))
	require.ErrorContains(t, d.Call(dispatch.OpTypeConcatenate, stack), "out-of-bounds")
}

func TestReshape(t *testing.T) {
	d := newDispatcher(t)
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	got := call(t, d, dispatch.OpTypeReshape,
		dispatch.TensorValue(input), dispatch.Scalar([]int{3, 2}))
	require.Equal(t, []int{3, 2}, got.Shape().Dimensions)
	require.True(t, got.SharesStorage(input))

	// Writes through the view are visible in the original.
	tensors.FlatData[float32](got)[0] = 100
	require.Equal(t, float32(100), tensors.FlatData[float32](input)[0])

	stack := dispatch.NewStack(dispatch.TensorValue(input), dispatch.Scalar([]int{4, 4}))
	require.ErrorContains(t, d.Call(dispatch.OpTypeReshape, stack), "sizes must match")
}

func TestShapeMismatch(t *testing.T) {
	d := newDispatcher(t)
	lhs := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	rhs := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)
	stack := dispatch.NewStack(dispatch.TensorValue(lhs), dispatch.TensorValue(rhs))
	require.ErrorContains(t, d.Call(dispatch.OpTypeAdd, stack), "same shape")
}

func TestParallelCalls(t *testing.T) {
	d := newDispatcher(t)
	const numGoroutines = 8
	const numCalls = 50
	errs := make([]error, numGoroutines)
	var wg sync.WaitGroup
	for g := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lhs := tensors.FromFlatDataAndDimensions([]int64{1, 2, 3, 4}, 4)
			rhs := tensors.FromFlatDataAndDimensions([]int64{10, 20, 30, 40}, 4)
			for range numCalls {
				stack := dispatch.NewStack(dispatch.TensorValue(lhs), dispatch.TensorValue(rhs))
				if err := d.Call(dispatch.OpTypeAdd, stack); err != nil {
					errs[g] = err
					return
				}
				got := stack.Output(0).Tensor().(*tensors.Tensor)
				if tensors.FlatData[int64](got)[3] != 44 {
					errs[g] = errors.New("wrong result from concurrent add")
					return
				}
			}
		}()
	}
	wg.Wait()
	for g, err := range errs {
		require.NoErrorf(t, err, "goroutine #%d failed", g)
	}
}
