package yamlio

import "strconv"

// trimFloat formats f with the shortest representation that round-trips,
// keeping the written YAML stable across repeated runs.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
