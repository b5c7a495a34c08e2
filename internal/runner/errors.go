package runner

import "errors"

// Sentinel errors. Runtime-error *results* (command_not_found,
// provider_limit, command_failed, command_timeout) are reported as data in
// AdapterResult, not as Go errors — these sentinels cover genuine
// programming/setup failures only.
var (
	// ErrNoStream describes a stream request made without an OnStream
	// callback. Run does not return it: with no OnStream set, output is
	// still captured and returned in RunResult.Output.
	ErrNoStream = errors.New("no stream callback configured")
)
