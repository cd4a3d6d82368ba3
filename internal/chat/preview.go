package chat

const (
	previewMaxLen    = 100
	mediaPlaceholder = "Photo"
)

// previewText produces the directory summary line for a message: the text
// truncated to a displayable length, or a placeholder when the message
// carries only media.
func previewText(m Message) string {
	if m.Text == "" && len(m.ImageURLs) > 0 {
		return mediaPlaceholder
	}
	return truncate(m.Text, previewMaxLen)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
