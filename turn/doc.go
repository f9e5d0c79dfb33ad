// Package turn owns the live turn state of conversations. A Coordinator
// wraps one policy instance per conversation, derives turn state from the
// event log, caches it with a short TTL, and sequences the side effects of
// every transition: persist the cached copy when the policy wants one, clear
// stale typing indicators, and always broadcast the new state.
//
// The cache is strictly an optimization. It is invalidated and recomputed on
// every new event (recompute-on-write), and Reconcile can always rebuild the
// correct state from nothing but the log and the roster.
package turn
