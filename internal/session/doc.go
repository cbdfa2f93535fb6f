// Package session is the query facade of a lienwatch client.
//
// A Session binds one signer, submits registrations through the transaction
// tracker, answers registry checks and feeds streamed ledger events into the
// reconciler. Ledger pollers and receipt watchers only enqueue; a single
// consumer (Run, or Drain in tests) applies events in arrival order, so a
// double-financing alert delivered before its receipt always wins.
//
// Every tracker transition is journaled with its reason code and can be read
// back with History.
package session
