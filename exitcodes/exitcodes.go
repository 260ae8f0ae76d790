// Package exitcodes defines the standard exit codes used by run-test.
package exitcodes

// Exit code constants used by run-test.
//
// * Success (0): every client passed comparison and no infrastructure error occurred
// * ComparisonFailure (1): one or more clients failed log comparison
// * InfraError (2): start/stop/fetch failures, configuration errors, cancellation
const (
	Success           = 0 // Full pass
	ComparisonFailure = 1 // Comparison failures
	InfraError        = 2 // Infrastructure or runtime errors
)
