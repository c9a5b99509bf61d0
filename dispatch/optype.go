package dispatch

import "fmt"

// OpType is an enum of the operations defined by the standard operator set.
//
// Values at or above OpTypeLast are free for embedders to define their own
// operators with: the Dispatcher only requires each operator to have a
// distinct OpType.
type OpType int

const (
	OpTypeInvalid OpType = iota
	OpTypeAdd
	OpTypeAddInPlace
	OpTypeAddScalar
	OpTypeClone
	OpTypeConcatenate
	OpTypeCopy
	OpTypeFill
	OpTypeMul
	OpTypeNeg
	OpTypeReshape
	OpTypeSub

	// OpTypeLast is one past the highest standard OpType. Used to size
	// per-operation tables.
	OpTypeLast
)

var opTypeNames = [OpTypeLast]string{
	OpTypeInvalid:     "Invalid",
	OpTypeAdd:         "Add",
	OpTypeAddInPlace:  "AddInPlace",
	OpTypeAddScalar:   "AddScalar",
	OpTypeClone:       "Clone",
	OpTypeConcatenate: "Concatenate",
	OpTypeCopy:        "Copy",
	OpTypeFill:        "Fill",
	OpTypeMul:         "Mul",
	OpTypeNeg:         "Neg",
	OpTypeReshape:     "Reshape",
	OpTypeSub:         "Sub",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= OpTypeLast {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}
