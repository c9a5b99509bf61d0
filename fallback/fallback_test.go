package fallback

import (
	"testing"

	"github.com/gomlx/go-dispatch/dense"
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// recordingTransformer resolves its marker by cloning: the logical value of
// a marked tensor is simply its content. Every hook invocation is recorded,
// so tests can assert how many transforms and write-backs a call performed
// and in which order.
type recordingTransformer struct {
	key           dispatch.Key
	transformed   []dispatch.TensorLike
	untransformed []dispatch.TensorLike
}

func (r *recordingTransformer) Transform(t dispatch.TensorLike) dispatch.TensorLike {
	r.transformed = append(r.transformed, t)
	tensor := t.(*tensors.Tensor)
	return tensor.Clone().WithKeys(tensor.Keys().Remove(r.key))
}

func (r *recordingTransformer) Untransform(dst, result dispatch.TensorLike) error {
	r.untransformed = append(r.untransformed, dst)
	return dst.(*tensors.Tensor).CopyFrom(result.(*tensors.Tensor))
}

var _ Transformer = (*recordingTransformer)(nil)

// newIntercepted returns a dispatcher with the dense kernels installed and a
// recording transformer intercepting the given key with the given routing
// entries.
func newIntercepted(t *testing.T, key dispatch.Key, entries ...Entry) (*dispatch.Dispatcher, *recordingTransformer) {
	d := dispatch.New()
	require.NoError(t, dense.Install(d))
	hooks := &recordingTransformer{key: key}
	routing, err := NewRouting(entries...)
	require.NoError(t, err)
	require.NoError(t, routing.InstallTo(d, key, hooks))
	return d, hooks
}

func marked(key dispatch.Key, data []float32, dimensions ...int) *tensors.Tensor {
	t := tensors.FromFlatDataAndDimensions(data, dimensions...)
	return t.WithKeys(t.Keys().Add(key))
}

func TestInPlaceIdentity(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	self := marked(dispatch.KeyFlatView, []float32{1, 2, 3, 4}, 2, 2)
	other := tensors.FromFlatDataAndDimensions([]float32{10, 20, 30, 40}, 2, 2)

	stack := dispatch.NewStack(dispatch.TensorValue(self), dispatch.TensorValue(other))
	require.NoError(t, d.Call(dispatch.OpTypeAddInPlace, stack))

	// The caller observes the very handle it passed in, content updated.
	require.Equal(t, 1, stack.NumOutputs())
	require.Same(t, self, stack.Output(0).Tensor())
	require.Equal(t, []float32{11, 22, 33, 44}, tensors.FlatData[float32](self))
	require.True(t, self.Keys().Has(dispatch.KeyFlatView))

	// One transform for the marked input, one write-back into it; the
	// unmarked operand was not touched.
	require.Len(t, hooks.transformed, 1)
	require.Same(t, self, hooks.transformed[0])
	require.Len(t, hooks.untransformed, 1)
	require.Same(t, self, hooks.untransformed[0])
	require.Equal(t, []float32{10, 20, 30, 40}, tensors.FlatData[float32](other))
}

func TestOutOfPlaceTransformsAllMarked(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	lhs := marked(dispatch.KeyFlatView, []float32{1, 2}, 2)
	rhs := marked(dispatch.KeyFlatView, []float32{3, 4}, 2)

	stack := dispatch.NewStack(dispatch.TensorValue(lhs), dispatch.TensorValue(rhs))
	require.NoError(t, d.Call(dispatch.OpTypeAdd, stack))

	got := stack.Output(0).Tensor().(*tensors.Tensor)
	require.Equal(t, []float32{4, 6}, tensors.FlatData[float32](got))
	// Fresh output: a new unmarked handle, no write-back.
	require.NotSame(t, lhs, got)
	require.NotSame(t, rhs, got)
	require.False(t, got.Keys().Has(dispatch.KeyFlatView))
	require.Len(t, hooks.untransformed, 0)

	// Both marked inputs transformed, in declaration order.
	require.Len(t, hooks.transformed, 2)
	require.Same(t, lhs, hooks.transformed[0])
	require.Same(t, rhs, hooks.transformed[1])
}

func TestListArity(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	a := marked(dispatch.KeyFlatView, []float32{1, 2}, 1, 2)
	b := tensors.FromFlatDataAndDimensions([]float32{3, 4}, 1, 2)
	c := marked(dispatch.KeyFlatView, []float32{5, 6}, 1, 2)

	stack := dispatch.NewStack(dispatch.TensorList(a, b, c), dispatch.Scalar(0))
	require.NoError(t, d.Call(dispatch.OpTypeConcatenate, stack))

	got := stack.Output(0).Tensor().(*tensors.Tensor)
	require.Equal(t, []int{3, 2}, got.Shape().Dimensions)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tensors.FlatData[float32](got))

	// Exactly the marked list elements are transformed, in order; the
	// fresh output needs no reconcile.
	require.Len(t, hooks.transformed, 2)
	require.Same(t, a, hooks.transformed[0])
	require.Same(t, c, hooks.transformed[1])
	require.Empty(t, hooks.untransformed)
}

func TestPassThrough(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView,
		Entry{Op: dispatch.OpTypeClone, Policy: PolicyPassThrough})
	input := marked(dispatch.KeyFlatView, []float32{1, 2, 3, 4}, 2, 2)

	stack := dispatch.NewStack(dispatch.TensorValue(input))
	require.NoError(t, d.Call(dispatch.OpTypeClone, stack))
	got := stack.Output(0).Tensor().(*tensors.Tensor)

	// Bit-identical to calling without the marker, and no hook ran.
	plain := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	direct := dispatch.NewStack(dispatch.TensorValue(plain))
	require.NoError(t, d.Call(dispatch.OpTypeClone, direct))
	want := direct.Output(0).Tensor().(*tensors.Tensor)

	require.NotSame(t, input, got)
	require.Equal(t, tensors.FlatData[float32](want), tensors.FlatData[float32](got))
	require.Empty(t, hooks.transformed)
	require.Empty(t, hooks.untransformed)
}

func TestNativeOverride(t *testing.T) {
	markerNeg := func(d *dispatch.Dispatcher, op *dispatch.Operator, keys dispatch.KeySet, stack *dispatch.Stack) error {
		// Distinctive result proving the override ran instead of the
		// generic path: fill with a constant.
		input := stack.Input(0).Tensor().(*tensors.Tensor)
		output := tensors.FromShape(input.Shape())
		flat := tensors.FlatData[float32](output)
		for i := range flat {
			flat[i] = -7
		}
		stack.PushOutput(dispatch.TensorValue(output))
		return nil
	}
	d, hooks := newIntercepted(t, dispatch.KeyFlatView,
		Entry{Op: dispatch.OpTypeNeg, Policy: PolicyNativeOverride, Kernel: markerNeg})

	input := marked(dispatch.KeyFlatView, []float32{1, 2}, 2)
	stack := dispatch.NewStack(dispatch.TensorValue(input))
	require.NoError(t, d.Call(dispatch.OpTypeNeg, stack))
	got := stack.Output(0).Tensor().(*tensors.Tensor)
	require.Equal(t, []float32{-7, -7}, tensors.FlatData[float32](got))
	require.Empty(t, hooks.transformed)
}

func TestViewOpPropagatesKey(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	input := marked(dispatch.KeyFlatView, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	stack := dispatch.NewStack(dispatch.TensorValue(input), dispatch.Scalar([]int{3, 2}))
	require.NoError(t, d.Call(dispatch.OpTypeReshape, stack))

	got := stack.Output(0).Tensor().(*tensors.Tensor)
	require.True(t, got.SharesStorage(input))
	require.Equal(t, []int{3, 2}, got.Shape().Dimensions)
	// The view carries the marker on, no hooks involved.
	require.True(t, got.Keys().Has(dispatch.KeyFlatView))
	require.Empty(t, hooks.transformed)
	require.Empty(t, hooks.untransformed)
}

func TestUnsupportedContainerFailsBeforeMutation(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	const opGather = dispatch.OpTypeLast
	_, err := d.DefineOp(dispatch.Schema{
		Op:   opGather,
		Name: "gather_optional",
		Params: []dispatch.Param{
			{Name: "a", Kind: dispatch.ParamTensor},
			{Name: "maybe", Kind: dispatch.ParamOptionalTensorList},
		},
		Returns: []dispatch.Return{{Kind: dispatch.ParamTensor}},
	})
	require.NoError(t, err)

	input := marked(dispatch.KeyFlatView, []float32{1, 2}, 2)
	extra := tensors.FromFlatDataAndDimensions([]float32{3}, 1)
	stack := dispatch.NewStack(dispatch.TensorValue(input), dispatch.TensorList(extra))

	err = d.Call(opGather, stack)
	require.ErrorContains(t, err, "unsupported argument shape")

	// The call failed before any slot was rewritten: the caller's handles
	// are still in place and untouched.
	require.Same(t, input, stack.Input(0).Tensor())
	require.Same(t, extra, stack.Input(1).List()[0])
	require.Equal(t, []float32{1, 2}, tensors.FlatData[float32](input))
	require.Empty(t, hooks.transformed)
}

func TestMixedAliasRejected(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	const opMixed = dispatch.OpTypeLast + 1
	_, err := d.DefineOp(dispatch.Schema{
		Op:   opMixed,
		Name: "narrow_into",
		Params: []dispatch.Param{
			{Name: "self", Kind: dispatch.ParamTensor, Alias: dispatch.AliasWrite},
			{Name: "src", Kind: dispatch.ParamTensor, Alias: dispatch.AliasRead},
		},
		Returns: []dispatch.Return{{Kind: dispatch.ParamTensor, Alias: dispatch.AliasWrite}},
	})
	require.NoError(t, err)

	self := marked(dispatch.KeyFlatView, []float32{1, 2}, 2)
	src := tensors.FromFlatDataAndDimensions([]float32{3, 4}, 2)
	stack := dispatch.NewStack(dispatch.TensorValue(self), dispatch.TensorValue(src))

	err = d.Call(opMixed, stack)
	require.ErrorContains(t, err, "mixing mutable and non-mutable")
	require.Same(t, self, stack.Input(0).Tensor())
	require.Empty(t, hooks.transformed)
}

func TestMultipleMutablesRejected(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	const opSwap = dispatch.OpTypeLast + 2
	_, err := d.DefineOp(dispatch.Schema{
		Op:   opSwap,
		Name: "swap_",
		Params: []dispatch.Param{
			{Name: "a", Kind: dispatch.ParamTensor, Alias: dispatch.AliasWrite},
			{Name: "b", Kind: dispatch.ParamTensor, Alias: dispatch.AliasWrite},
		},
		Returns: []dispatch.Return{
			{Kind: dispatch.ParamTensor, Alias: dispatch.AliasWrite},
			{Kind: dispatch.ParamTensor, Alias: dispatch.AliasWrite},
		},
	})
	require.NoError(t, err)

	a := marked(dispatch.KeyFlatView, []float32{1}, 1)
	b := marked(dispatch.KeyFlatView, []float32{2}, 1)
	stack := dispatch.NewStack(dispatch.TensorValue(a), dispatch.TensorValue(b))

	err = d.Call(opSwap, stack)
	require.ErrorContains(t, err, "more than one mutable argument")
	require.Empty(t, hooks.transformed)

	// With only one of the two mutables marked the precondition holds, but
	// swap_ has no dense kernel here, so dispatch reports that instead.
	stack = dispatch.NewStack(
		dispatch.TensorValue(marked(dispatch.KeyFlatView, []float32{1}, 1)),
		dispatch.TensorValue(tensors.FromFlatDataAndDimensions([]float32{2}, 1)))
	err = d.Call(opSwap, stack)
	require.ErrorContains(t, err, "no kernel or fallback")
}

func TestMutableListRejected(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	const opFillAll = dispatch.OpTypeLast + 3
	_, err := d.DefineOp(dispatch.Schema{
		Op:   opFillAll,
		Name: "fill_all_",
		Params: []dispatch.Param{
			{Name: "selves", Kind: dispatch.ParamTensorList, Alias: dispatch.AliasWrite},
			{Name: "value", Kind: dispatch.ParamScalar},
		},
		Returns: []dispatch.Return{{Kind: dispatch.ParamTensorList, Alias: dispatch.AliasWrite}},
	})
	require.NoError(t, err)

	a := marked(dispatch.KeyFlatView, []float32{1}, 1)
	stack := dispatch.NewStack(dispatch.TensorList(a), dispatch.Scalar(float32(0)))

	err = d.Call(opFillAll, stack)
	require.ErrorContains(t, err, "mutable tensor lists")
	require.Empty(t, hooks.transformed)
}

func TestKernelErrorPropagatesVerbatim(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	sentinel := errors.New("kernel exploded")
	const opBoom = dispatch.OpTypeLast + 4
	_, err := d.DefineOp(dispatch.Schema{
		Op:      opBoom,
		Name:    "boom",
		Params:  []dispatch.Param{{Name: "a", Kind: dispatch.ParamTensor}},
		Returns: []dispatch.Return{{Kind: dispatch.ParamTensor}},
	})
	require.NoError(t, err)
	require.NoError(t, d.RegisterKernel(opBoom, dispatch.KeyDense, func(*dispatch.Dispatcher, *dispatch.Operator, dispatch.KeySet, *dispatch.Stack) error {
		return sentinel
	}))

	input := marked(dispatch.KeyFlatView, []float32{1, 2}, 2)
	stack := dispatch.NewStack(dispatch.TensorValue(input))
	err = d.Call(opBoom, stack)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, sentinel.Error(), err.Error())
	// The marked input was transformed before the kernel ran, but the
	// caller's handle is untouched.
	require.Len(t, hooks.transformed, 1)
	require.Equal(t, []float32{1, 2}, tensors.FlatData[float32](input))
}

func TestZeroTensorOutputs(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	const opCount = dispatch.OpTypeLast + 5
	_, err := d.DefineOp(dispatch.Schema{
		Op:      opCount,
		Name:    "count",
		Params:  []dispatch.Param{{Name: "a", Kind: dispatch.ParamTensor}},
		Returns: []dispatch.Return{{Kind: dispatch.ParamScalar}},
	})
	require.NoError(t, err)
	require.NoError(t, d.RegisterKernel(opCount, dispatch.KeyDense, func(_ *dispatch.Dispatcher, _ *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
		input := stack.Input(0).Tensor().(*tensors.Tensor)
		stack.PushOutput(dispatch.Scalar(input.Size()))
		return nil
	}))

	input := marked(dispatch.KeyFlatView, []float32{1, 2, 3}, 3)
	stack := dispatch.NewStack(dispatch.TensorValue(input))
	require.NoError(t, d.Call(opCount, stack))
	require.Equal(t, 3, stack.Output(0).ScalarValue())
	// One transform, and reconcile had nothing to visit.
	require.Len(t, hooks.transformed, 1)
	require.Empty(t, hooks.untransformed)
}

func TestOptionalTensorSlots(t *testing.T) {
	d, hooks := newIntercepted(t, dispatch.KeyFlatView)
	const opLerp = dispatch.OpTypeLast + 6
	_, err := d.DefineOp(dispatch.Schema{
		Op:   opLerp,
		Name: "pick",
		Params: []dispatch.Param{
			{Name: "a", Kind: dispatch.ParamTensor},
			{Name: "b", Kind: dispatch.ParamOptionalTensor},
		},
		Returns: []dispatch.Return{{Kind: dispatch.ParamTensor}},
	})
	require.NoError(t, err)
	require.NoError(t, d.RegisterKernel(opLerp, dispatch.KeyDense, func(_ *dispatch.Dispatcher, _ *dispatch.Operator, _ dispatch.KeySet, stack *dispatch.Stack) error {
		picked := stack.Input(0)
		if stack.Input(1).IsPresent() {
			picked = dispatch.TensorValue(stack.Input(1).Tensor())
		}
		stack.PushOutput(picked)
		return nil
	}))

	a := marked(dispatch.KeyFlatView, []float32{1}, 1)
	b := marked(dispatch.KeyFlatView, []float32{2}, 1)

	// Present optional: both transformed.
	stack := dispatch.NewStack(dispatch.TensorValue(a), dispatch.OptionalTensor(b))
	require.NoError(t, d.Call(opLerp, stack))
	require.Len(t, hooks.transformed, 2)
	require.Same(t, b, hooks.transformed[1])
	// The slot kind survived the rewrite.
	require.Equal(t, dispatch.ValueOptionalTensor, stack.Input(1).Kind())

	// Absent optional: skipped.
	hooks.transformed = nil
	stack = dispatch.NewStack(dispatch.TensorValue(a), dispatch.OptionalTensor(nil))
	require.NoError(t, d.Call(opLerp, stack))
	require.Len(t, hooks.transformed, 1)
}

func TestStackedMarkers(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, dense.Install(d))
	flat := &recordingTransformer{key: dispatch.KeyFlatView}
	neg := &recordingTransformer{key: dispatch.KeyNegView}
	for key, hooks := range map[dispatch.Key]*recordingTransformer{
		dispatch.KeyFlatView: flat,
		dispatch.KeyNegView:  neg,
	} {
		routing, err := NewRouting()
		require.NoError(t, err)
		require.NoError(t, routing.InstallTo(d, key, hooks))
	}

	self := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	self = self.WithKeys(self.Keys().Add(dispatch.KeyFlatView).Add(dispatch.KeyNegView))
	other := tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2)

	stack := dispatch.NewStack(dispatch.TensorValue(self), dispatch.TensorValue(other))
	require.NoError(t, d.Call(dispatch.OpTypeAddInPlace, stack))

	// The outer layer's stand-in went through the inner layer, and each
	// reconcile restored its own original, composing back to the caller's
	// handle with both markers intact.
	require.Same(t, self, stack.Output(0).Tensor())
	require.Equal(t, []float32{11, 22}, tensors.FlatData[float32](self))
	require.Len(t, flat.transformed, 1)
	require.Same(t, self, flat.transformed[0])
	require.Len(t, neg.transformed, 1)
	require.Len(t, flat.untransformed, 1)
	require.Len(t, neg.untransformed, 1)
	require.True(t, self.Keys().Has(dispatch.KeyFlatView))
	require.True(t, self.Keys().Has(dispatch.KeyNegView))
}

func TestRoundTrip(t *testing.T) {
	hooks := &recordingTransformer{key: dispatch.KeyFlatView}
	original := marked(dispatch.KeyFlatView, []float32{1, 2, 3, 4}, 2, 2)
	transformed := hooks.Transform(original)
	require.NoError(t, hooks.Untransform(original, transformed))
	require.Equal(t, []float32{1, 2, 3, 4}, tensors.FlatData[float32](original))
	require.Equal(t, []int{2, 2}, original.Shape().Dimensions)
}
