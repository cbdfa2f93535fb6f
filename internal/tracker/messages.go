package tracker

// User-facing status and error text.
const (
	MsgAwaitingSignature = "Waiting for wallet approval..."
	MsgPending           = "Transaction submitted to network. Waiting for confirmation..."
	MsgConfirmed         = "Transaction confirmed! Mortgage registration complete."

	MsgNotConnected      = "Please connect your wallet first"
	MsgAlreadyInProgress = "A transaction is already in progress"
	MsgDoubleFinancing   = "Double financing attempt detected! This property already has a registered mortgage."
	MsgRegisterFailed    = "Failed to register mortgage. Please try again."
	MsgCheckFailed       = "Failed to check mortgage. Please try again."
	MsgReverted          = "Transaction reverted. Mortgage was not registered."
	MsgInvalidIdentifier = "Please enter property details"
)

// CheckResultMessage is the status text shown after a registry query.
func CheckResultMessage(exists bool) string {
	if exists {
		return "Property check completed. Mortgage exists."
	}
	return "Property check completed. Mortgage does not exist."
}
