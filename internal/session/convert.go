package session

import (
	"github.com/google/uuid"

	"github.com/ent0n29/agentgate/internal/sessionstore"
)

// EventsToMessages flattens the text of each event into a stored message.
// Events without content parts are skipped; an empty text part is kept.
func EventsToMessages(events []*Event) []sessionstore.Message {
	messages := make([]sessionstore.Message, 0, len(events))
	for _, ev := range events {
		if ev == nil || ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		text := ev.Content.Text()
		role := ev.Author
		if role == "" {
			role = ev.Content.Role
		}
		messages = append(messages, sessionstore.Message{
			Role:      role,
			Content:   text,
			Timestamp: sessionstore.Timestamp(ev.Timestamp),
		})
	}
	return messages
}

// MessagesToEvents rebuilds single-part text events from stored messages.
func MessagesToEvents(messages []sessionstore.Message) []*Event {
	events := make([]*Event, 0, len(messages))
	for _, m := range messages {
		events = append(events, &Event{
			ID:        uuid.NewString(),
			Author:    m.Role,
			Content:   NewTextContent(m.Role, m.Content),
			Timestamp: sessionstore.TimeOf(m.Timestamp),
		})
	}
	return events
}
