package ui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/verinews/pkg/events"
)

// ForwardChatEvents is a watermill handler that hands the events of chatID
// to the program, so that changes made outside of the UI show up.
func ForwardChatEvents(p *tea.Program, chatID string) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		if msg.Metadata.Get(events.MetadataChatIDKey) != chatID {
			return nil
		}
		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			return err
		}

		p.Send(ChatEventMsg{Event: e})
		return nil
	}
}
