// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing tenants, execution records and
// conversation content, plus a disposable PostgreSQL instance for store
// integration tests. Not intended for production usage.
package testutil
