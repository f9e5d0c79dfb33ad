// Package assistant supervises AI reply generation for a conversation. The
// Supervisor owns the full lifecycle of one assistant turn: typing
// indicators, thread bootstrap, prompt sync, submission with retry, status
// polling under an outer deadline, and appending the finished reply to the
// conversation log. A failed or timed-out generation never appends a partial
// message.
//
// Provider adapters live in the openai and anthropic sub-packages; both
// implement the Backend interface. MockBackend serves tests and offline runs.
package assistant
