// Package engine wires the conversation pipeline together: inbound messages
// are validated against the active turn policy, appended to the event log,
// folded into a new turn state, broadcast, and, when the policy says the
// assistant owes a reply, handed to the generation supervisor. The pipeline
// runs over the bus so each stage stays independently testable and async
// stages (broadcast, generation) cannot fail a message that already
// committed.
package engine
