// Package metrics defines and registers poolbroker's Prometheus metrics:
// pool/ledger size gauges, operation status counts, dispatch and HTTP
// latency histograms, and a Collector that samples the store and
// operation registry on a 15-second tick. Handler() exposes them for
// scraping; Timer is a small helper for recording histogram durations
// around a block of code.
package metrics
