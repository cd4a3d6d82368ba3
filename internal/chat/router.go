package chat

// Transition describes the state changes a single pushed message requires.
// Route computes it without touching any state, so the dispatch decision
// is testable independent of the transport and the stores.
type Transition struct {
	ContactID  string
	Append     bool    // message belongs in the open conversation buffer
	AckSeen    bool    // acknowledge the message as seen on the server
	BumpUnseen bool    // increment the sender's unseen counter
	Preview    Preview // directory preview patch for the sender
}

// Route decides how an inbound pushed message mutates client state.
// openContactID is the contact whose conversation is currently open
// ("" when none is).
func Route(msg Message, openContactID string) Transition {
	open := openContactID != "" && msg.SenderID == openContactID
	return Transition{
		ContactID:  msg.SenderID,
		Append:     open,
		AckSeen:    open,
		BumpUnseen: !open,
		Preview: Preview{
			Message:  previewText(msg),
			Time:     msg.CreatedAt,
			SentByMe: false,
			Seen:     open,
		},
	}
}
