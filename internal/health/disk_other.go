//go:build !linux

package health

import "errors"

// DiskUsage is unsupported off Linux; callers treat the error as degraded
// rather than unhealthy.
func DiskUsage(path string) (free, total uint64, err error) {
	return 0, 0, errors.New("disk usage not supported on this platform")
}
