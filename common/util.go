package common

func Ternary[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// CeilDiv returns ceil(a/b) for positive integers.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}
