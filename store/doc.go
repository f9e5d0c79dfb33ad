// Package store houses concrete implementations of the core storage
// contracts (EventStore, ParticipantStore, SettingsStore, TurnStateStore).
// The interfaces themselves live in the core package to centralize domain
// contracts; keeping only implementations here prevents higher level
// packages (policy, turn, engine) from depending on concrete storage.
//
// Additional backends (Postgres lives in the postgres sub-package) can be
// added without changing any calling code; only the wiring layer decides
// which implementation to instantiate.
package store
