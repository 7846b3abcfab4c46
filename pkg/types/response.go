// Package types holds the wire envelopes shared by the webhook and
// admin surfaces.
package types

// SuccessEnvelope wraps every successful response body. Voice webhook
// replies ride inside Data so the telephony provider reads one shape
// for agent turns, fallbacks, and usage receipts alike.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-visible error. Code carries the machine name
// (UNAUTHORIZED, USAGE_LIMIT, CIRCUIT_OPEN); gate rejections keep
// Message generic and put nothing in Details.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError under the error key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
