// Package authguard provides the session and role based access layer of an
// application that delegates identity to a hosted provider.
//
// Session store:
//   - Store owns the process wide AuthState. Bootstrap fetches the current
//     session once; WatchProvider registers for provider events. Every commit
//     runs on a single FIFO queue, so event N+1 is never applied before event
//     N has been committed and its subscribers notified.
//   - Mutations (SignIn, SignUp, SignOut, ResetPassword, UpdatePassword)
//     return errors as values. Provider failures are normalized into the
//     go-errors taxonomy: auth errors carry a message safe to show verbatim,
//     transient errors a generic one.
//
// Route guard:
//   - Decide is the pure decision table (pending, allow, redirect).
//   - RouteGuard applies decisions through a Navigator while mounted, and
//     suppresses a redirect that is already in flight to the same target.
//   - Outlet mounts a guard for the view matching the current location.
//
// Activity sinks:
//   - ActivitySink receives sign in, sign up, logout and session events.
//     Sinks run best-effort (errors are logged).
package authguard
