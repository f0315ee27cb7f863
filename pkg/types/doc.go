// Package types holds the vocabulary shared by the session engine and its collaborators:
// session states and status snapshots, conversations and messages, backend events emitted by
// the browser automation layer, broadcast events, and the error taxonomy.
package types
