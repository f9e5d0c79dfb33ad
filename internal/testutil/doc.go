// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing rosters and conversation event logs. The
// helpers are intentionally minimal and not intended for production usage.
package testutil
