// Package presence implements the core.TypingStore contract: ephemeral
// per-(conversation,user) typing indicators with a short TTL. The state is
// safe to lose entirely; clients recover on the next broadcast, and clearing
// is idempotent because the generation timeout and completion paths may race
// to call it. An in-memory implementation lives here, a Redis-backed one in
// the redis sub-package.
package presence
