package common

// ConstError is an error type for immutable error constants. Unlike values
// produced by errors.New, a ConstError can be declared as a compile-time
// constant and is safe to compare and wrap across package boundaries.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}
