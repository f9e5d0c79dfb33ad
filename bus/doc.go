// Package bus is the in-process publish/subscribe mechanism sequencing the
// orchestration pipeline. Handlers register for a DomainEvent type with a
// numeric priority and a sync/async flag: synchronous handlers run strictly
// in priority order and each completes (or fails) before the next runs,
// while async handlers are dispatched without the publisher waiting and
// their failures never propagate back to the original caller.
//
// DomainEvents are ephemeral and in-memory only. They exist to sequence
// handler execution for one causal chain and are distinct from the
// persisted ConversationEvents in the log.
package bus
