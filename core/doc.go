// Package core defines the domain contracts shared by every Convoq package:
// the append-only ConversationEvent log, participants and rosters, derived
// turn state, completion aggregates, the storage / presence / broadcast
// collaborator interfaces and the error taxonomy.
//
// The package holds no orchestration logic. The one invariant everything
// else depends on: the ordered event log of a conversation, replayed in
// sequence order, is the sole authority for who spoke when. Every other
// representation of turn state is a cache derived from it.
package core
