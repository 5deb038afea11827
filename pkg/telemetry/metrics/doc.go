// Package metrics serves the Prometheus scrape endpoint.
//
// Individual packages register their collectors on the default registry
// via promauto; this package only exposes them over HTTP, along with a
// liveness probe and scrape-time depth gauges for the queue and the
// dead letter store.
package metrics
