// Package autoreply decides whether an inbound message gets an automated reply and,
// when it does, generates the reply and sends it through the message gateway.
//
// A reply requires automated replies to be enabled, a message authored by the
// contact, a body matching one of the trigger rules (no rules match everything)
// and room in the conversation's rate limit. Each inbound message is answered at
// most once. Generation failures are logged and never affect the inbound flow.
package autoreply
