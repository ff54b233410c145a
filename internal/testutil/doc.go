// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing agents and simulation events. These helpers
// are intentionally minimal and not intended for production usage.
package testutil
