package domain

import "context"

// Transport is the outbound side of the chat platform.
type Transport interface {
	// Reply sends plain text to a chat.
	Reply(ctx context.Context, chatID int64, text string) error
	// Prompt sends text with a row of inline choices.
	Prompt(ctx context.Context, chatID int64, text string, choices []Choice) error
	// Deliver relays content to a recipient chat.
	Deliver(ctx context.Context, d Delivery) error
}
