// Package httputil provides shared HTTP response/request utilities for
// API handlers: one JSON envelope, one error shape, one place that
// decides what leaks to clients.
package httputil
