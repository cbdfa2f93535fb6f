// Package store is the SQLite journal behind a client session.
//
// It holds three append-only tables:
//   - mortgage_records: observed MortgageRegistered events
//   - double_financing_alerts: observed AlertDoubleFinancing events
//   - transitions: every state change of the transaction tracker
//
// # Ordering
//
// Every append takes one value from a logical Clock. A batch of events shares
// that value as its seq and keeps its delivery order in position. Reads order
// by seq, never by wall time:
//   - event logs: ORDER BY seq DESC, position ASC (newest batch first)
//   - transitions: ORDER BY seq ASC
//
// # Lifetime
//
// Sessions open the journal with OpenMemory. The database lives on a single
// connection and is discarded on Close, so no state carries across process
// restarts.
package store
