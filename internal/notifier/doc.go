// Package notifier delivers end-of-run reports to operators.
//
// A Service fans one Report out to every configured Sender (webhooks,
// Telegram). Deliveries are rate limited and retried with jittered
// exponential backoff. Delivery happens on the caller's goroutine: the run
// that produced the report waits for it, so a report is never lost to a
// shutdown that arrives mid-run.
//
// Failures are returned to the caller, which only logs them; a notifier can
// never fail a run.
package notifier
