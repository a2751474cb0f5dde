// Package configentry manages configured integration instances.
//
// A config entry records everything needed to stand one integration
// instance up: which integration (domain), how to reach the device
// (data), and user-tunable behaviour (options). Entries are persisted
// in SQLite and survive restarts; the Manager replays setup at boot.
//
// Lifecycle states:
//
//	not_loaded -> in_progress -> loaded
//	                          -> setup_retry  (ErrNotReady, backoff retry)
//	                          -> setup_error  (any other setup failure)
//	loaded -> not_loaded                       (unload)
//	       -> failed_unload                    (unload error)
//
// Integrations that cannot reach their device during setup return
// ErrNotReady; the Manager retries with exponential backoff starting at
// five seconds, so transient outages at boot heal without operator
// action.
package configentry
