// Package server exposes the session, messaging and conversation operations over HTTP
// under /api/whatsapp, plus the WebSocket and SSE event streams.
package server
