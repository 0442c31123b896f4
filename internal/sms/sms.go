// Package sms defines the narrow outbound dispatch contract the OTP
// pipeline depends on. The pipeline cares only that a message was (or
// was not) handed to a provider, not which provider.
package sms

import "context"

// Result reports the provider's acknowledgement of a dispatch.
type Result struct {
	MessageID string
}

// Sender dispatches a single text message. Implementations must return
// a non-nil error whenever delivery was not accepted by the provider.
type Sender interface {
	SendSms(ctx context.Context, phone, message string) (Result, error)
}
