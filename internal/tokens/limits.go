package tokens

// DefaultModelLimit is the context ceiling used when a model identifier is
// not present in the limits table.
const DefaultModelLimit = 4096

// modelLimits maps model identifiers to their context window sizes.
// The table is read-only and process-wide.
var modelLimits = map[string]int{
	"gemma3n:latest": 8192,
	"gemma3n:7b":     8192,
	"gemma3n:2b":     4096,
	"llama3.1:8b":    8192,
	"llama3.1:7b":    8192,
	"mistral:7b":     8192,
	"phi3:medium":    4096,
	"phi3:mini":      4096,
	"tinyllama:1.1b": 2048,
}

// ModelLimit returns the context ceiling for the given model, falling back
// to DefaultModelLimit for unknown identifiers. It never fails.
func ModelLimit(modelID string) int {
	if limit, ok := modelLimits[modelID]; ok {
		return limit
	}
	return DefaultModelLimit
}
