// Package chat persists multi-turn conversations as JSON files on local
// disk and assembles token-bounded context windows from their history.
package chat
