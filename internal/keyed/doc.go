// Package keyed runs handlers as keyed actors over a durable store.
//
// Every invocation names a service, a key, and a handler. Invocations on the
// same (service, key) execute one at a time; different keys run in parallel.
// Before a handler runs its invocation is written to a journal. The handler's
// state write and the journal row removal commit together, so a crash between
// the two leaves a pending row that Recover redelivers on the next start.
// Handlers may checkpoint state mid-flight to mark progress a redelivery can
// resume from.
//
// Reads through Runtime.Read never take the key lock and return the last
// committed or checkpointed state.
package keyed
