// Package dispatch submits commands to an engine pool and implements blocking on top of
// the pool's non-blocking submission.
//
// Every submission goes to the pool without waiting. The returned handle becomes the
// session's last result. When the effective settings ask for blocking, the dispatcher
// waits locally using a three-tier wait:
//
//   - quiet: wait until ProgressAfter has passed since submission, then give output
//     the remainder of that window to arrive
//   - interactive: if still running, show a progress view until done and allow one
//     more second for trailing output
//   - none: a negative ProgressAfter never shows progress
//
// Local cancellation (the wait's context ending) either forwards the configured
// interrupt signal to the submission's engines and ends the wait quietly, or, with no
// signal configured, aborts with ErrInterruptAborted.
//
// Output is either streamed live while waiting or rendered once at the end. A remote
// failure whose output was already streamed comes back as *remote.AlreadyDisplayedError.
//
// Submissions may be recorded to a history store and published as events; both are
// optional and best effort.
package dispatch
