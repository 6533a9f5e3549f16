package domain

import (
	"time"
	"unicode/utf8"
)

// MaxContentLength caps the message text stored alongside each outcome.
const MaxContentLength = 5000

// Message is a mail record as delivered by the mailbox provider.
type Message struct {
	Sender  string
	Subject string
	Date    time.Time
	Text    string
	HTML    string
}

// FetchQuery narrows what the mailbox provider returns.
type FetchQuery struct {
	UnseenOnly     bool
	SenderContains string
	Limit          int
	NewestFirst    bool
}

// ProcessingUnit pairs one message with the links extracted from it.
type ProcessingUnit struct {
	Sender  string
	Subject string
	Content string
	Links   []string
}

// NewProcessingUnit builds a unit from a message, capping the stored content.
func NewProcessingUnit(msg Message, links []string) ProcessingUnit {
	copied := make([]string, len(links))
	copy(copied, links)
	return ProcessingUnit{
		Sender:  msg.Sender,
		Subject: msg.Subject,
		Content: CapContent(msg.Text),
		Links:   copied,
	}
}

// CapContent truncates text to MaxContentLength characters and marks the cut with "...".
func CapContent(text string) string {
	if utf8.RuneCountInString(text) <= MaxContentLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxContentLength]) + "..."
}
