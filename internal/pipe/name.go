// Package pipe provides the controller's named-pipe sinks for redirecting
// the agent's output and log streams to the controller's own standard
// streams.
package pipe

import "strconv"

const prefix = `\\.\pipe\recc`

// Name returns the data pipe path for the controller with the given pid.
func Name(pid uint32) string {
	return prefix + strconv.FormatUint(uint64(pid), 10)
}

// LogName returns the log pipe path for the controller with the given pid.
func LogName(pid uint32) string {
	return prefix + "_log" + strconv.FormatUint(uint64(pid), 10)
}
