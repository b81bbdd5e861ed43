// Package service runs gh-repo-stats analyses as supervised child processes.
//
// The Registry owns every Job of the process. A Manager creates jobs from a
// validated model.AnalysisConfig, then runs each one in its own goroutine:
//
//	Manager.Start          Manager.Run                    Runner
//	    |                      |                            |
//	    | wg.Go -------------->| pending -> running         |
//	    |                      | temp dir, orgs/repos files |
//	    |                      | Start -------------------->| exec + Setpgid
//	    |                      |                            | stdout reader  -> Job.onStdout
//	    |                      |                            | stderr reader  -> Job.onStderr -> progress
//	    |                      |<------------- Done --------| Wait
//	    |                      | conclude: cancel, timeout, |
//	    |                      | exit code, artifact        |
//	    |                      | running -> completed|failed|
//
// Cancel flags the job and cancels its run context. The Runner reacts by
// sending a terminate signal to the process group, then a kill signal once
// the grace period has passed.
//
// Invariants:
//   - Job identifiers are random and never reused.
//   - Terminal jobs never change status again.
//   - Progress never decreases while a job runs and is 100 once it completes.
//   - At most 500 output lines are retained per job.
//   - A job has a Runner only while it is running.
package service
