package dense

// podNumericConstraints are the Go plain-old-data numeric types the dense
// kernels loop over natively. Float16 and BFloat16 are not included because
// Go has no native arithmetic for them; each kernel carries dedicated loops
// converting through float32.
type podNumericConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}
