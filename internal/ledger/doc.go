// Package ledger defines the client's view of the mortgage registry contract
// and provides two implementations of it.
//
// Ethereum binds the deployed contract over JSON-RPC using go-ethereum: reads
// go through eth_call, writes are packed against the embedded ABI and handed
// to a Signer, receipts and events are polled. Sim is an in-memory registry
// with the contract's event semantics, used by the demo command, the scenario
// harness and tests.
//
// Events reach the client as Batches pushed into a Sink. A batch holds the
// events of one stream observed in one poll, in log order. Delivery is
// at-least-once with no deduplication.
package ledger
