// Package exitcodes defines the exit codes used by op-harness.
package exitcodes

// These constants define the exit codes that the application uses to indicate
// how a run ended:
//
// * Success (0): every unit passed or was skipped
// * ExecutionError (1): the harness itself failed, e.g. a panic or an unreadable report directory
// * IllegalArgument (3): invalid flags or an invalid plan
// * ExecutionFailure (4): one or more units failed
const (
	Success          = 0
	ExecutionError   = 1
	IllegalArgument  = 3
	ExecutionFailure = 4
)
