//go:build linux

package device

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// totalRAMMB reads MemTotal from /proc/meminfo. Returns 0 when the
// value cannot be read; callers treat that as unknown.
func totalRAMMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}
