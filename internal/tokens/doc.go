// Package tokens estimates the token cost of text and assembles
// token-bounded context windows from conversation history for language-model
// generation requests.
package tokens
