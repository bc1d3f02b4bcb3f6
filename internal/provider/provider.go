package provider

import "context"

// Discovery is the capability the model consumes from the test runner:
// full listing, targeted parsing, and run/debug execution with streamed
// results. Implementations own process invocation and wire decoding.
type Discovery interface {
	// ListFiles performs a full discovery pass for the configuration.
	// A transport failure is returned as an error; a runner-reported
	// failure travels in FileListing.Error.
	ListFiles(ctx context.Context, cfg Config) (*FileListing, error)

	// ListTests parses exactly the given files and returns per-project
	// suites along with non-fatal parse errors.
	ListTests(ctx context.Context, cfg Config, files []string) (*TestListing, error)

	// RunTests executes the scoped run, streaming events to the
	// reporter until the run ends or ctx is cancelled.
	RunTests(ctx context.Context, cfg Config, req RunRequest, rep Reporter) error

	// DebugTests is RunTests under a debug adapter.
	DebugTests(ctx context.Context, cfg Config, req DebugRequest, rep Reporter) error
}
