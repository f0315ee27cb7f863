// Package conversation maps phone identifiers to conversations and the business
// entities they are linked to.
package conversation
