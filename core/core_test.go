package core

import "testing"

func msg(seq int64, sender, text string) ConversationEvent {
	return ConversationEvent{
		ID:       NewID(),
		Type:     EventMessage,
		Payload:  MessagePayload{SenderID: sender, Content: text},
		Sequence: seq,
	}
}

func TestLastMessage_SkipsNonMessageEvents(t *testing.T) {
	events := []ConversationEvent{
		msg(1, "u1", "hello"),
		{ID: NewID(), Type: EventCompletionMarked, Payload: CompletionPayload{ParticipantID: "u1"}, Sequence: 2},
	}
	last, ok := LastMessage(events)
	if !ok {
		t.Fatal("expected a message event")
	}
	if last.SenderID() != "u1" || last.Text() != "hello" {
		t.Errorf("unexpected last message: %+v", last)
	}
	if _, ok := LastMessage(nil); ok {
		t.Error("empty log should have no last message")
	}
}

func TestRoster_StableOrderAndFirst(t *testing.T) {
	r := Roster{
		NewAssistantSeat(),
		{ID: "u1", Role: RoleHuman},
		{ID: "u2", Role: RoleGuest},
	}
	humans := r.Humans()
	if len(humans) != 2 || humans[0].ID != "u1" || humans[1].ID != "u2" {
		t.Fatalf("humans out of roster order: %+v", humans)
	}
	first, ok := r.First()
	if !ok || first.ID != "u1" {
		t.Errorf("First should prefer the first human, got %+v", first)
	}
	if r.IndexOf("u2") != 2 {
		t.Errorf("IndexOf u2 = %d", r.IndexOf("u2"))
	}
}

func TestAggregateCompletion(t *testing.T) {
	roster := Roster{
		NewAssistantSeat(),
		{ID: "u1", Role: RoleHuman},
		{ID: "u2", Role: RoleHuman},
	}
	events := []ConversationEvent{
		{Type: EventCompletionMarked, Payload: CompletionPayload{ParticipantID: "u1"}},
		{Type: EventCompletionMarked, Payload: CompletionPayload{ParticipantID: "u1"}}, // duplicate
	}
	status := AggregateCompletion(events, roster)
	if status.AllComplete {
		t.Error("one of two humans complete should not be all_complete")
	}
	if len(status.CompletedIDs) != 1 || status.Total != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}

	events = append(events, ConversationEvent{Type: EventCompletionMarked, Payload: CompletionPayload{ParticipantID: "u2"}})
	status = AggregateCompletion(events, roster)
	if !status.AllComplete {
		t.Error("both humans marked should be all_complete")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := MarshalPayload(MessagePayload{SenderID: "u1", Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p, err := UnmarshalPayload(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	mp, ok := p.(MessagePayload)
	if !ok || mp.SenderID != "u1" || mp.Content != "hi" {
		t.Errorf("round trip mismatch: %+v", p)
	}
}
