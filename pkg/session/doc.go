// Package session owns the single automated WhatsApp Web session.
//
// Manager runs the lifecycle state machine (Uninitialized, Launching, AwaitingPairing,
// Connected, Reconnecting, Failed, Terminated) over a Backend that drives the browser.
// QRBroker holds the current pairing payload with its freshness window and
// RetryController schedules resume attempts after a disconnect.
package session
