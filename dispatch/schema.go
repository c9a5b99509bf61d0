package dispatch

import (
	"fmt"

	"github.com/pkg/errors"
)

// ParamKind classifies one slot of an operator signature. Interception
// layers use it to find the tensors of a call without knowing the operator.
type ParamKind int

const (
	// ParamScalar is a plain value carrying no tensors: a Go scalar, a
	// dimensions slice, an axis, etc.
	ParamScalar ParamKind = iota

	// ParamTensor is exactly one tensor.
	ParamTensor

	// ParamOptionalTensor is one tensor or absent.
	ParamOptionalTensor

	// ParamTensorList is a list of tensors.
	ParamTensorList

	// ParamOptionalTensorList is a list whose elements may each be absent.
	// Operators may declare it, but the generic interception layers cannot
	// enumerate tensors from it and fail calls that carry one.
	ParamOptionalTensorList
)

var paramKindNames = map[ParamKind]string{
	ParamScalar:             "Scalar",
	ParamTensor:             "Tensor",
	ParamOptionalTensor:     "OptionalTensor",
	ParamTensorList:         "TensorList",
	ParamOptionalTensorList: "OptionalTensorList",
}

// String implements fmt.Stringer.
func (k ParamKind) String() string {
	if name, found := paramKindNames[k]; found {
		return name
	}
	return fmt.Sprintf("ParamKind(%d)", int(k))
}

// HoldsTensors reports whether slots of this kind may carry tensors.
func (k ParamKind) HoldsTensors() bool { return k != ParamScalar }

// Alias describes how a parameter's storage relates to the operator's
// returns.
type Alias int

const (
	// AliasNone marks a parameter that is only read, with no return aliasing
	// its storage.
	AliasNone Alias = iota

	// AliasRead marks a parameter whose storage is aliased by a return
	// without being written: the operator returns a view of it.
	AliasRead

	// AliasWrite marks a parameter the operator writes through, as the
	// receiver of in-place operators or an out parameter. The aliasing
	// return is the same handle.
	AliasWrite
)

var aliasNames = [...]string{
	AliasNone:  "None",
	AliasRead:  "Read",
	AliasWrite: "Write",
}

// String implements fmt.Stringer.
func (a Alias) String() string {
	if a < 0 || int(a) >= len(aliasNames) {
		return fmt.Sprintf("Alias(%d)", int(a))
	}
	return aliasNames[a]
}

// Param declares one input slot of an operator signature.
type Param struct {
	Name  string
	Kind  ParamKind
	Alias Alias
}

// Return declares one output slot of an operator signature.
type Return struct {
	Kind ParamKind

	// Alias is AliasWrite when the return is the written input handle of an
	// in-place operator, AliasRead when the return is a view of an input,
	// and AliasNone for freshly allocated outputs.
	Alias Alias
}

// Schema declares the signature of an operator: its identity, its input
// slots and its output slots. The slot layout is fixed, calls may only
// replace slot contents.
type Schema struct {
	Op      OpType
	Name    string
	Params  []Param
	Returns []Return
}

// String implements fmt.Stringer, printing a compact signature.
func (s Schema) String() string {
	var b []byte
	b = append(b, s.Name...)
	b = append(b, '(')
	for i, p := range s.Params {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, p.Name...)
		b = append(b, ": "...)
		b = append(b, p.Kind.String()...)
		if p.Alias != AliasNone {
			b = append(b, '!')
		}
	}
	b = append(b, ") -> ("...)
	for i, r := range s.Returns {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, r.Kind.String()...)
		if r.Alias != AliasNone {
			b = append(b, '!')
		}
	}
	b = append(b, ')')
	return string(b)
}

// Validate checks the schema is structurally sound. It does not restrict
// which alias combinations interception layers can serve, only what is
// well-formed as a signature.
func (s Schema) Validate() error {
	if s.Op == OpTypeInvalid {
		return errors.Errorf("schema %q: operator type must be set", s.Name)
	}
	if s.Name == "" {
		return errors.Errorf("schema for %s: name must not be empty", s.Op)
	}
	seen := make(map[string]bool, len(s.Params))
	hasWriteParam := false
	for i, p := range s.Params {
		if p.Name == "" {
			return errors.Errorf("schema %q: parameter #%d has no name", s.Name, i)
		}
		if seen[p.Name] {
			return errors.Errorf("schema %q: duplicate parameter name %q", s.Name, p.Name)
		}
		seen[p.Name] = true
		if _, found := paramKindNames[p.Kind]; !found {
			return errors.Errorf("schema %q: parameter %q has unknown kind %d", s.Name, p.Name, int(p.Kind))
		}
		if p.Alias != AliasNone && !p.Kind.HoldsTensors() {
			return errors.Errorf("schema %q: parameter %q is a %s and cannot be aliased", s.Name, p.Name, p.Kind)
		}
		if p.Alias == AliasWrite {
			hasWriteParam = true
		}
	}
	for i, r := range s.Returns {
		if _, found := paramKindNames[r.Kind]; !found {
			return errors.Errorf("schema %q: return #%d has unknown kind %d", s.Name, i, int(r.Kind))
		}
		if r.Alias != AliasNone && !r.Kind.HoldsTensors() {
			return errors.Errorf("schema %q: return #%d is a %s and cannot be aliased", s.Name, i, r.Kind)
		}
		if r.Alias == AliasWrite && !hasWriteParam {
			return errors.Errorf("schema %q: return #%d aliases a written input, but no parameter is marked written", s.Name, i)
		}
	}
	return nil
}

// standardSchemas declares the signatures of the standard operator set. The
// Dispatcher defines them all at construction.
func standardSchemas() []Schema {
	tensor := func(name string) Param { return Param{Name: name, Kind: ParamTensor} }
	scalar := func(name string) Param { return Param{Name: name, Kind: ParamScalar} }
	self := Param{Name: "self", Kind: ParamTensor, Alias: AliasWrite}
	fresh := Return{Kind: ParamTensor}
	written := Return{Kind: ParamTensor, Alias: AliasWrite}

	return []Schema{
		{Op: OpTypeAdd, Name: "add",
			Params:  []Param{tensor("a"), tensor("b")},
			Returns: []Return{fresh}},
		{Op: OpTypeSub, Name: "sub",
			Params:  []Param{tensor("a"), tensor("b")},
			Returns: []Return{fresh}},
		{Op: OpTypeMul, Name: "mul",
			Params:  []Param{tensor("a"), tensor("b")},
			Returns: []Return{fresh}},
		{Op: OpTypeNeg, Name: "neg",
			Params:  []Param{tensor("a")},
			Returns: []Return{fresh}},
		{Op: OpTypeAddScalar, Name: "add_scalar",
			Params:  []Param{tensor("a"), scalar("value")},
			Returns: []Return{fresh}},
		{Op: OpTypeAddInPlace, Name: "add_",
			Params:  []Param{self, tensor("other")},
			Returns: []Return{written}},
		{Op: OpTypeCopy, Name: "copy_",
			Params:  []Param{self, tensor("src")},
			Returns: []Return{written}},
		{Op: OpTypeFill, Name: "fill_",
			Params:  []Param{self, scalar("value")},
			Returns: []Return{written}},
		{Op: OpTypeClone, Name: "clone",
			Params:  []Param{tensor("a")},
			Returns: []Return{fresh}},
		{Op: OpTypeConcatenate, Name: "concat",
			Params:  []Param{{Name: "tensors", Kind: ParamTensorList}, scalar("axis")},
			Returns: []Return{fresh}},
		{Op: OpTypeReshape, Name: "reshape",
			Params: []Param{
				{Name: "self", Kind: ParamTensor, Alias: AliasRead},
				scalar("dims"),
			},
			Returns: []Return{{Kind: ParamTensor, Alias: AliasRead}}},
	}
}
