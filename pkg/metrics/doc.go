// Package metrics defines Prometheus metrics for bidctl authentication:
// login attempts, device token polling, refreshes and logouts. The CLI is
// short-lived, so metrics are exported to a textfile instead of scraped.
package metrics
