// Package execution drives submissions through their language strategy and a
// sandbox.
//
// Every attempt moves through the states
//
//	queued -> files_prepared -> sandbox_acquired -> running -> result_collected
//
// and ends completed, failed, timed_out or cancelled. Each transition is
// logged with the attempt's execution id. The attempt owns its execution
// directory, which is removed on every exit path.
//
// Orchestrator is the low level entry point. Grader sits in front of it and
// adds request validation, template merging and source screening.
package execution
