// Package coordinator centralises polling for integrations.
//
// Vendor devices rarely push; most integrations scrape an HTTP page or
// JSON endpoint on an interval. A Coordinator owns that fetch loop for
// one integration instance and fans each result out to the entities
// built on top of it, so N entities share one request per interval.
//
// Failure handling is deliberately quiet: the first failed update in
// an outage logs at error level, the rest at debug, and recovery logs
// once at info. Listeners are notified on failure too, so entities can
// flip to unavailable while the device is down.
package coordinator
