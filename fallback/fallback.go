// Package fallback implements a generic interception layer for the dispatch
// runtime: operators invoked under a marker key have their marked tensor
// arguments rewritten through a Transformer, are redispatched with the
// marker suppressed so they reach a real kernel instead of recursing, and
// have the computed results written back into the caller-visible outputs
// through the inverse transformation.
//
// One TransformFallback serves every operator routed to it, whatever the
// arity: argument handling is driven entirely by the operator's schema. The
// layer is agnostic to what the transformation does; flatview and negview
// supply two unrelated Transformer implementations over the same mechanism.
//
// Operators for which the generic path is unnecessary or wrong are routed
// around it by a Routing table: PassThrough declares the marker key
// structurally irrelevant for an operator, NativeOverride installs a
// hand-written kernel for it. Routing.InstallTo performs the whole
// registration for one marker key in a single explicit call at startup.
package fallback

import (
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/pkg/errors"
)

// Transformer is the hook pair a marker key supplies to the generic
// fallback: how to rewrite a marked tensor into a form kernels can process,
// and how to write a computed result back into the original handle.
//
// Transform takes one marked tensor-like value and returns a possibly newly
// allocated, possibly reshaped value representing the same quantity with the
// marker resolved. It must not modify its input, and the returned value must
// not carry the marker key.
//
// Untransform takes the original output handle and the freshly computed
// result, and mutates the storage behind dst in place so that dst's identity
// is preserved while its content matches result, reconciling any shape
// difference Transform introduced. It is the only point of the interception
// path allowed to mutate caller-visible state.
//
// Neither hook may invoke an operator that would dispatch under the same
// marker key: that would re-enter the fallback and recurse. This is a
// precondition of the hooks, not a runtime-checked invariant.
type Transformer interface {
	Transform(t dispatch.TensorLike) dispatch.TensorLike
	Untransform(dst, result dispatch.TensorLike) error
}

// TransformFallback is the generic interception kernel for one marker key.
// Register its Call method as the key's dispatch fallback, typically through
// Routing.InstallTo.
type TransformFallback struct {
	key   dispatch.Key
	hooks Transformer
}

// NewTransformFallback returns a fallback intercepting calls under the given
// marker key with the given hooks.
func NewTransformFallback(key dispatch.Key, hooks Transformer) (*TransformFallback, error) {
	if !key.IsValid() {
		return nil, errors.Errorf("fallback: invalid dispatch key %s", key)
	}
	if hooks == nil {
		return nil, errors.Errorf("fallback: transformer for key %s must not be nil", key)
	}
	return &TransformFallback{key: key, hooks: hooks}, nil
}

// Key returns the marker key the fallback intercepts.
func (f *TransformFallback) Key() dispatch.Key { return f.key }

// Call intercepts one operator call. It is a dispatch.BoxedKernel.
//
// The sequence is capture, forward-transform, redispatch, reconcile: every
// marked tensor argument is replaced on the stack by its transformed form,
// the call is redispatched with the marker key removed, and for in-place and
// out= operators the computed content is written back into the original
// mutable handle, which is then restored into its return slot so the caller
// observes the identity it passed in. Fresh (non-aliased) outputs are
// returned exactly as the underlying kernel produced them.
//
// Errors from the underlying kernel propagate unchanged. Calls that fail
// before the redispatch leave the stack untouched.
func (f *TransformFallback) Call(d *dispatch.Dispatcher, op *dispatch.Operator, keys dispatch.KeySet, stack *dispatch.Stack) error {
	if err := checkCall(op, stack); err != nil {
		return err
	}

	hasAliased, isWrite, err := aliasDirection(f.key, op)
	if err != nil {
		return err
	}
	if hasAliased && !isWrite {
		// View operators return handles aliasing their input's storage and
		// propagate its dispatch keys, marker included; redispatching
		// unchanged keeps the marker's semantics without hook involvement.
		return d.Redispatch(op, keys, f.key, stack)
	}

	original, err := f.scanMarked(op, stack)
	if err != nil {
		return err
	}

	// Forward-transform: replace every marked tensor argument with its
	// transformed form, keeping the stand-in of the written argument for
	// the identity check after the redispatch. A handle appearing in
	// several slots is transformed once per slot, like any other argument.
	var standIn dispatch.TensorLike
	err = mapInputTensors(op, stack, func(param *dispatch.Param, t dispatch.TensorLike) (dispatch.TensorLike, error) {
		if !t.Keys().Has(f.key) {
			return t, nil
		}
		transformed := f.hooks.Transform(t)
		if param.Alias == dispatch.AliasWrite {
			standIn = transformed
		}
		return transformed, nil
	})
	if err != nil {
		return err
	}

	if err := d.Redispatch(op, keys, f.key, stack); err != nil {
		return err
	}

	if original == nil {
		// No mutable argument carried the marker: outputs are fresh values
		// or the untouched written handle, nothing to write back.
		return nil
	}
	return f.reconcile(op, stack, original, standIn)
}

// aliasDirection reports whether the operator declares aliased parameters
// and, if so, whether they are written. Operators mixing mutable and
// non-mutable aliased parameters are not servable by the generic path.
func aliasDirection(key dispatch.Key, op *dispatch.Operator) (hasAliased, isWrite bool, err error) {
	params := op.Schema().Params
	for i := range params {
		if params[i].Alias == dispatch.AliasNone {
			continue
		}
		w := params[i].Alias == dispatch.AliasWrite
		if hasAliased && isWrite != w {
			return false, false, errors.Errorf(
				"%s fallback cannot run %s: operators mixing mutable and non-mutable arguments that alias with outputs must be implemented manually",
				key, op.Name())
		}
		hasAliased, isWrite = true, w
	}
	return hasAliased, isWrite, nil
}

// scanMarked verifies the dynamic preconditions of the transform pass
// without touching the stack, and returns the marked written handle if there
// is one: at most one mutable argument may carry the marker, and mutable
// tensor lists may not hold marked elements.
func (f *TransformFallback) scanMarked(op *dispatch.Operator, stack *dispatch.Stack) (original dispatch.TensorLike, err error) {
	err = visitInputTensors(op, stack, func(param *dispatch.Param, t dispatch.TensorLike) error {
		if param.Alias != dispatch.AliasWrite || !t.Keys().Has(f.key) {
			return nil
		}
		if param.Kind == dispatch.ParamTensorList {
			return errors.Errorf(
				"%s fallback cannot run %s: mutable tensor lists holding marked elements are not supported, resolve the %s form of the list elements first",
				f.key, op.Name(), f.key)
		}
		if original != nil {
			return errors.Errorf(
				"%s fallback cannot run %s: more than one mutable argument carries the %s key",
				f.key, op.Name(), f.key)
		}
		original = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return original, nil
}

// reconcile writes the computed content back into the original mutable
// handle and restores that handle into the aliasing return slots, so the
// caller observes the identity it passed in.
func (f *TransformFallback) reconcile(op *dispatch.Operator, stack *dispatch.Stack, original, standIn dispatch.TensorLike) error {
	returns := op.Schema().Returns
	if stack.NumOutputs() != len(returns) {
		return errors.Errorf("%s kernel left %d outputs on the stack, schema declares %d",
			op.Name(), stack.NumOutputs(), len(returns))
	}
	for i := range returns {
		if returns[i].Alias != dispatch.AliasWrite {
			continue
		}
		v := stack.Output(i)
		if v.Kind() != dispatch.ValueTensor {
			return errors.Errorf("%s: aliased return #%d is a %s value, expected a tensor", op.Name(), i, v.Kind())
		}
		if v.Tensor() != standIn {
			return errors.Errorf(
				"%s under %s: kernel returned a handle distinct from its written input, cannot restore the caller's output identity",
				op.Name(), f.key)
		}
		if err := f.hooks.Untransform(original, standIn); err != nil {
			return err
		}
		stack.SetOutput(i, dispatch.TensorValue(original))
	}
	return nil
}
