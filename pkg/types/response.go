// Package types holds the wire envelopes shared by every HTTP handler.
package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope carries Data only when part of the request already took
// effect before the failure.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
	Data  any      `json:"data,omitempty"`
}

// AckEnvelope is the literal acknowledgement body payment gateways expect
// from webhook receivers.
type AckEnvelope struct {
	Success bool `json:"success"`
}
