// Package llm is the HTTP client for the local language-model runtime. It
// supports one-shot and streamed generation, model listing, and a health
// probe, with bounded concurrency and retries.
package llm
