package workflow

// Inbound is a message delivered to the workflow: UserText, CheckpointConfirmation or
// Continuation.
type Inbound interface {
	isInbound()
}

// UserText is a free-text message typed by the user.
type UserText struct {
	Text string
}

// CheckpointConfirmation answers a pending checkpoint. ID is the checkpoint ID or its kind.
type CheckpointConfirmation struct {
	ID     string
	Choice Choice
}

// Continuation is the internal message that resumes automated work within a turn.
type Continuation struct{}

func (UserText) isInbound()               {}
func (CheckpointConfirmation) isInbound() {}
func (Continuation) isInbound()           {}
