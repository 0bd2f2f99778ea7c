// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing events, replaying event streams and
// draining them. They are not intended for production usage.
package testutil
