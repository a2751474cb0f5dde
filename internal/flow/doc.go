// Package flow implements multi-step configuration wizards.
//
// Each integration registers a HandlerFactory; starting a flow creates
// a fresh handler and runs its "user" step with nil input, which
// produces the first form. Submitted input is validated against the
// form's schema before the handler sees it, so handlers only deal with
// domain checks (can I reach the router, are the credentials right).
//
// A finished flow hands its data to configentry and reports the new
// entry ID. Duplicate devices abort with "already_configured". Flows
// are held in memory and expire after fifteen minutes of inactivity.
package flow
