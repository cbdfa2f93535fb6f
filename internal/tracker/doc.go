// Package tracker implements the lifecycle of the single registration
// transaction a client may have outstanding.
//
// The state is a tagged variant:
//
//	Idle -> AwaitingSignature -> Pending(hash) -> Confirmed
//	                  \                \
//	                   -> Failed(code)  -> Failed(code)
//
// Confirmed and Failed are not terminal: a new submission may start from
// them, and from Idle. While AwaitingSignature or Pending any further
// submission is refused with ALREADY_IN_PROGRESS and the state is unchanged.
//
// "Loading" and the status text are derived from the phase (State.View);
// there are no independent flags to keep in sync.
package tracker
