// Package prometheus exposes goAccess engine counters and latency
// histograms as a prometheus.Collector. Register it with any registry, or
// mount Handler for a standalone scrape endpoint.
package prometheus
