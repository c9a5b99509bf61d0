// Package dispatch routes operator calls to kernels by dispatch key.
//
// Every tensor carries a KeySet of dispatch keys. A call's active key set is
// the union over its tensor arguments, and the Dispatcher hands the call to
// the implementation registered for the highest-priority active key: a
// per-operator kernel, or the key's fallback when the operator has no kernel
// of its own. An implementation may in turn redispatch the call with its key
// removed, descending one layer at a time until a kernel computes values.
//
// Three registration surfaces exist per (operator, key) pair:
//
//   - RegisterKernel installs an implementation.
//   - RegisterPassThrough declares the key structurally irrelevant for the
//     operator: dispatch skips it and continues with the next key.
//   - RegisterFallback installs a catch-all for a key, used for every
//     operator without its own kernel for that key.
//
// The Dispatcher is created with the standard operator set already defined
// (see OpType); embedders may define more with DefineOp. All definitions and
// registrations must happen during initialization, before the first Call:
// the tables are read-only afterwards and calls from multiple goroutines are
// then safe.
package dispatch

import (
	"os"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TraceEnv is the environment variable that, when set to any non-empty
// value, logs every dispatch decision. The same information is logged at
// verbosity 2 (-v=2) without it.
const TraceEnv = "GODISPATCH_TRACE"

var traceDispatch = os.Getenv(TraceEnv) != ""

// BoxedKernel is an implementation of an operator in type-erased form. It
// receives the dispatcher to allow redispatching, the operator being called,
// the call's active key set (still including the key the kernel was selected
// for) and the call stack with one input per schema parameter. On success it
// must leave one output on the stack per schema return.
type BoxedKernel func(d *Dispatcher, op *Operator, keys KeySet, stack *Stack) error

// Operator is one defined operator: its schema plus the kernels registered
// for it, indexed by dispatch key.
type Operator struct {
	schema      Schema
	kernels     [KeyLast]BoxedKernel
	passThrough KeySet
}

// Schema returns the operator's signature. Read-only.
func (op *Operator) Schema() *Schema { return &op.schema }

// Name returns the operator's name.
func (op *Operator) Name() string { return op.schema.Name }

// Type returns the operator's OpType.
func (op *Operator) Type() OpType { return op.schema.Op }

// HasKernel reports whether a kernel is registered for the given key.
func (op *Operator) HasKernel(key Key) bool {
	return key.IsValid() && op.kernels[key] != nil
}

// PassesThrough reports whether the given key was registered as structurally
// irrelevant for this operator.
func (op *Operator) PassesThrough(key Key) bool { return op.passThrough.Has(key) }

// String implements fmt.Stringer.
func (op *Operator) String() string { return op.schema.Name }

// Dispatcher owns the operator definitions and the per-key routing tables.
// Create one with New.
type Dispatcher struct {
	ops       map[OpType]*Operator
	fallbacks [KeyLast]BoxedKernel
}

// New returns a Dispatcher with the standard operator set defined and no
// kernels registered. Kernel providers are installed separately, typically
// dense.Install for the base kernels plus one Install per interception
// layer.
func New() *Dispatcher {
	d := &Dispatcher{ops: make(map[OpType]*Operator, OpTypeLast)}
	for _, schema := range standardSchemas() {
		d.MustDefineOp(schema)
	}
	return d
}

// DefineOp defines a new operator from its schema. It fails if the schema is
// invalid or if the OpType is already defined.
func (d *Dispatcher) DefineOp(schema Schema) (*Operator, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if _, found := d.ops[schema.Op]; found {
		return nil, errors.Errorf("operator %s (%q) is already defined", schema.Op, schema.Name)
	}
	op := &Operator{schema: schema}
	op.schema.Params = slices.Clone(schema.Params)
	op.schema.Returns = slices.Clone(schema.Returns)
	d.ops[schema.Op] = op
	return op, nil
}

// MustDefineOp is DefineOp, panicking on error.
func (d *Dispatcher) MustDefineOp(schema Schema) *Operator {
	op, err := d.DefineOp(schema)
	if err != nil {
		exceptions.Panicf("dispatch.MustDefineOp: %v", err)
	}
	return op
}

// Op returns the operator defined for the given OpType, or nil if none is.
func (d *Dispatcher) Op(opType OpType) *Operator { return d.ops[opType] }

// Operators returns all defined operators, ordered by OpType.
func (d *Dispatcher) Operators() []*Operator {
	ops := make([]*Operator, 0, len(d.ops))
	for _, op := range d.ops {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b *Operator) int { return int(a.schema.Op) - int(b.schema.Op) })
	return ops
}

// RegisterKernel installs a kernel for the given operator and key. A
// previous kernel or pass-through registration for the pair is replaced,
// with a warning.
func (d *Dispatcher) RegisterKernel(opType OpType, key Key, kernel BoxedKernel) error {
	op := d.ops[opType]
	if op == nil {
		return errors.Errorf("cannot register kernel: operator %s is not defined", opType)
	}
	if !key.IsValid() {
		return errors.Errorf("cannot register kernel for %s: invalid dispatch key %s", op.Name(), key)
	}
	if kernel == nil {
		return errors.Errorf("cannot register nil kernel for %s/%s", op.Name(), key)
	}
	if op.kernels[key] != nil || op.passThrough.Has(key) {
		klog.Warningf("dispatch: replacing previous registration for %s/%s", op.Name(), key)
	}
	op.kernels[key] = kernel
	op.passThrough = op.passThrough.Remove(key)
	return nil
}

// RegisterPassThrough declares that the given key is structurally irrelevant
// for the operator: dispatching the operator under it proceeds directly to
// the next-highest active key, with no kernel or fallback involved. A
// previous kernel registration for the pair is replaced, with a warning.
func (d *Dispatcher) RegisterPassThrough(opType OpType, key Key) error {
	op := d.ops[opType]
	if op == nil {
		return errors.Errorf("cannot register pass-through: operator %s is not defined", opType)
	}
	if !key.IsValid() {
		return errors.Errorf("cannot register pass-through for %s: invalid dispatch key %s", op.Name(), key)
	}
	if op.kernels[key] != nil {
		klog.Warningf("dispatch: replacing previous registration for %s/%s", op.Name(), key)
		op.kernels[key] = nil
	}
	op.passThrough = op.passThrough.Add(key)
	return nil
}

// RegisterFallback installs a catch-all kernel for a key. Every operator
// without its own kernel or pass-through registration for that key is served
// by it.
func (d *Dispatcher) RegisterFallback(key Key, kernel BoxedKernel) error {
	if !key.IsValid() {
		return errors.Errorf("cannot register fallback: invalid dispatch key %s", key)
	}
	if kernel == nil {
		return errors.Errorf("cannot register nil fallback for key %s", key)
	}
	if d.fallbacks[key] != nil {
		klog.Warningf("dispatch: replacing previous fallback for key %s", key)
	}
	d.fallbacks[key] = kernel
	return nil
}

// HasFallback reports whether a fallback is registered for the key.
func (d *Dispatcher) HasFallback(key Key) bool {
	return key.IsValid() && d.fallbacks[key] != nil
}

// Call invokes an operator on a stack loaded with its arguments. The active
// key set is derived from the tensor arguments. On success the stack holds
// one output per schema return.
func (d *Dispatcher) Call(opType OpType, stack *Stack) error {
	op := d.ops[opType]
	if op == nil {
		return errors.Errorf("operator %s is not defined", opType)
	}
	keys := stack.InputKeys()
	if keys.IsEmpty() {
		return errors.Errorf("calling %s: no dispatch keys in arguments, use CallWithKeys for operators with no tensor arguments", op.Name())
	}
	return d.dispatch(op, keys, stack)
}

// CallWithKeys invokes an operator under an explicit key set, bypassing key
// derivation from the arguments.
func (d *Dispatcher) CallWithKeys(opType OpType, keys KeySet, stack *Stack) error {
	op := d.ops[opType]
	if op == nil {
		return errors.Errorf("operator %s is not defined", opType)
	}
	return d.dispatch(op, keys, stack)
}

// Redispatch re-invokes op with the given key removed from the active set.
// It is how an interception layer forwards a call to the layers below it:
// removing exactly its own key guarantees the call reaches a different
// implementation and dispatch makes progress.
func (d *Dispatcher) Redispatch(op *Operator, keys KeySet, without Key, stack *Stack) error {
	return d.dispatch(op, keys.Remove(without), stack)
}

func (d *Dispatcher) dispatch(op *Operator, keys KeySet, stack *Stack) error {
	for !keys.IsEmpty() {
		key := keys.Highest()
		if op.passThrough.Has(key) {
			if traceDispatch || klog.V(2).Enabled() {
				klog.Infof("dispatch: %s keys=%s: %s passes through", op.Name(), keys, key)
			}
			keys = keys.Remove(key)
			continue
		}
		kernel := op.kernels[key]
		source := "kernel"
		if kernel == nil {
			kernel = d.fallbacks[key]
			source = "fallback"
		}
		if kernel == nil {
			return errors.Errorf("could not run %s: no kernel or fallback registered for dispatch key %s (active keys %s)",
				op.Name(), key, keys)
		}
		if traceDispatch || klog.V(2).Enabled() {
			klog.Infof("dispatch: %s keys=%s -> %s %s", op.Name(), keys, key, source)
		}
		return kernel(d, op, keys, stack)
	}
	return errors.Errorf("could not run %s: empty dispatch key set", op.Name())
}
