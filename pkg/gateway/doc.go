// Package gateway sends and receives messages over the automated session.
//
// Outbound sends are queued and handed to the session one at a time. Each send
// reaches exactly one terminal delivery state: sent or delivered when the
// backend acknowledges it, failed on a delivery error, on ack timeout, or on
// shutdown. Inbound messages are normalized to canonical phone identifiers,
// attached to their conversation, recorded and broadcast in arrival order.
package gateway
