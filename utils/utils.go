package utils

import "strconv"

// ParseUint parses a route parameter as an unsigned id.
func ParseUint(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
