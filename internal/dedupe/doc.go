// Package dedupe remembers recently processed idempotency keys so a client
// retrying a send within the window gets the original message back.
package dedupe
