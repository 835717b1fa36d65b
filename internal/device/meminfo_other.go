//go:build !linux

package device

// totalRAMMB is unknown on platforms without a meminfo source; config
// overrides supply the value.
func totalRAMMB() int {
	return 0
}
