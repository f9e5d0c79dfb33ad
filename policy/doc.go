// Package policy implements the pluggable turn policies that decide, from an
// event log and a participant roster alone, who may speak next in a
// conversation.
//
// Every policy is a pure fold over (events, roster): calling it twice with
// the same inputs yields the same TurnState, and no policy ever errors on a
// well-formed log. Unknown or corrupt sender ids degrade deterministically
// to the first participant and are logged as warnings, never raised.
//
// Policies are selected by configuration (core.TurnPolicyMode) through
// ForMode, never by subclassing a manager type.
package policy
