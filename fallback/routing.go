package fallback

import (
	"fmt"
	"slices"

	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/types"
	"github.com/pkg/errors"
)

// Policy decides which path an operator takes under a marker key.
type Policy int

const (
	// PolicyFullFallback routes the operator through the generic
	// TransformFallback. It is the default for operators without an entry.
	PolicyFullFallback Policy = iota

	// PolicyPassThrough declares the marker key structurally irrelevant for
	// the operator: dispatch skips the key and continues to the next one,
	// with no hook involvement.
	PolicyPassThrough

	// PolicyNativeOverride installs a hand-written kernel for the operator
	// under the marker key, bypassing the generic path entirely.
	PolicyNativeOverride
)

var policyNames = [...]string{
	PolicyFullFallback:   "FullFallback",
	PolicyPassThrough:    "PassThrough",
	PolicyNativeOverride: "NativeOverride",
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	if p < 0 || int(p) >= len(policyNames) {
		return fmt.Sprintf("Policy(%d)", int(p))
	}
	return policyNames[p]
}

// Entry routes one operator under the marker key. Kernel is required for
// PolicyNativeOverride entries, and must be nil for every other policy.
type Entry struct {
	Op     dispatch.OpType
	Policy Policy
	Kernel dispatch.BoxedKernel
}

// Routing is the per-operator routing table of one marker key: which
// operators take the generic fallback, which pass through, and which have
// native overrides. Build it once with NewRouting and install it with
// InstallTo during initialization; it is immutable afterwards.
type Routing struct {
	entries map[dispatch.OpType]Entry
}

// NewRouting validates the given entries and freezes them into a table.
// Operators without an entry default to PolicyFullFallback.
func NewRouting(entries ...Entry) (*Routing, error) {
	r := &Routing{entries: make(map[dispatch.OpType]Entry, len(entries))}
	seen := types.MakeSet[dispatch.OpType](len(entries))
	for _, e := range entries {
		if e.Op == dispatch.OpTypeInvalid {
			return nil, errors.Errorf("routing entry with invalid operator type")
		}
		if seen.Has(e.Op) {
			return nil, errors.Errorf("duplicate routing entry for operator %s", e.Op)
		}
		seen.Insert(e.Op)
		switch e.Policy {
		case PolicyNativeOverride:
			if e.Kernel == nil {
				return nil, errors.Errorf("routing entry for %s: %s requires a kernel", e.Op, e.Policy)
			}
		case PolicyFullFallback, PolicyPassThrough:
			if e.Kernel != nil {
				return nil, errors.Errorf("routing entry for %s: %s entries must not carry a kernel", e.Op, e.Policy)
			}
		default:
			return nil, errors.Errorf("routing entry for %s: unknown policy %s", e.Op, e.Policy)
		}
		r.entries[e.Op] = e
	}
	return r, nil
}

// PolicyFor returns the policy routing the given operator, defaulting to
// PolicyFullFallback for operators without an entry.
func (r *Routing) PolicyFor(op dispatch.OpType) Policy {
	return r.entries[op].Policy
}

// Entries returns the explicit entries of the table, ordered by operator
// type.
func (r *Routing) Entries() []Entry {
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return int(a.Op) - int(b.Op) })
	return entries
}

// InstallTo registers the table on a dispatcher for the given marker key and
// hooks: the generic fallback catches every operator without an explicit
// entry, pass-through operators are declared to dispatch, and native
// overrides are registered as kernels. Call it once while initializing the
// dispatcher, before the first call.
func (r *Routing) InstallTo(d *dispatch.Dispatcher, key dispatch.Key, hooks Transformer) error {
	f, err := NewTransformFallback(key, hooks)
	if err != nil {
		return err
	}
	if err := d.RegisterFallback(key, f.Call); err != nil {
		return err
	}
	for _, e := range r.Entries() {
		switch e.Policy {
		case PolicyPassThrough:
			err = d.RegisterPassThrough(e.Op, key)
		case PolicyNativeOverride:
			err = d.RegisterKernel(e.Op, key, e.Kernel)
		case PolicyFullFallback:
			// The fallback registered above already serves it.
		}
		if err != nil {
			return err
		}
	}
	return nil
}
