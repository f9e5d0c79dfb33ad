package testutil

import (
	"time"

	"github.com/convoq/convoq/core"
)

// RosterWithHumans builds a roster with the implicit assistant seat followed
// by the given human ids in join order.
func RosterWithHumans(ids ...string) core.Roster {
	r := core.Roster{core.NewAssistantSeat()}
	base := time.Now().UTC()
	for i, id := range ids {
		r = append(r, core.Participant{
			ID:       id,
			Role:     core.RoleHuman,
			JoinedAt: base.Add(time.Duration(i+1) * time.Second),
		})
	}
	return r
}

// MessageLog builds a sequential message-event log with one message per
// sender, in the given order.
func MessageLog(conversationID string, senders ...string) []core.ConversationEvent {
	events := make([]core.ConversationEvent, 0, len(senders))
	base := time.Now().UTC()
	for i, sender := range senders {
		events = append(events, core.ConversationEvent{
			ID:             core.NewID(),
			ConversationID: conversationID,
			Type:           core.EventMessage,
			Payload:        core.MessagePayload{SenderID: sender, Content: "msg"},
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			Sequence:       int64(i + 1),
		})
	}
	return events
}
