// Package apiclient issues HTTP requests to external services with bounded,
// context-aware retries.
//
// Requests carry their body as bytes so every attempt resends the same
// payload. 429 and 5xx replies and network failures are retried with
// exponential backoff (Retry-After wins when present); any other non-2xx reply
// fails immediately. Failures surface as *APIError.
package apiclient
