// Package daemon assembles the long-running scribe process.
//
// It wires the keyed runtime, the pipeline coordinator, the rate limiter and
// the callback router behind a gin HTTP ingress, and uses a flock-based lock
// file so only one daemon serves a data directory. Start redelivers
// invocations left in the journal by a previous crash before accepting
// traffic; Stop drains background deliveries before releasing the lock.
//
// Domain behavior belongs in the pipeline and ratelimit packages. This package
// only owns startup, shutdown, and request translation.
package daemon
