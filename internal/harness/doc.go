// Package harness runs scripted client sessions against the simulated
// registry and renders them as golden traces.
//
// # Scenario Format
//
//	name: register_confirmed
//	description: "What this scenario validates"
//	wallet: "0x00000000000000000000000000000000000000a1"
//	setup:
//	  - action: register_external
//	    args: { property: "123 Main St", financier: "0x...b2" }
//	flow:
//	  - action: connect
//	  - action: submit
//	    args: { property: "123 Main St" }
//	    expect: { state: AwaitingSignature }
//	  - action: approve
//	    args: { tx_hash: "0xabc" }
//	  - action: mine
//	assertions:
//	  - type: final_phase
//	    phase: Confirmed
//
// Actions: connect, disconnect, submit, approve, reject, fail, mine, check,
// register_external, inject_alert, outage_start, outage_end. A submit that
// reaches the wallet stays in flight until approve, reject or fail answers
// it; mine includes a transaction (the last approved one by default) and
// applies everything the ledger emitted, receipt last.
//
// Assertion types: final_phase, error_code, mortgage_count, alert_count,
// message, trace_contains.
//
// # Determinism
//
// Submission ids come from testutil.SequenceGenerator and every clock is
// fixed or stepped, so a scenario renders byte-identical output on every run.
package harness
