package tokens

import (
	"log/slog"
	"slices"
	"strings"
)

// Defaults for context window assembly.
const (
	DefaultReserveTokens  = 512 // tokens held back for the model's response
	DefaultPreserveRecent = 2   // recent turns that are never dropped wholesale

	// truncateBuffer is subtracted from the remaining budget before a
	// content truncation so the recomputed cost stays inside the limit.
	truncateBuffer = 50
	// truncateMinTokens is the smallest budget worth truncating a
	// non-final turn into.
	truncateMinTokens = 100
	// truncateMinRunes is the floor for a truncated prefix.
	truncateMinRunes = 50

	ellipsis = "..."
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one conversation entry considered for inclusion in a context
// window. TokenCount is the content token estimate; zero means "unknown"
// and the builder computes it on demand.
type Turn struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count,omitempty"`
}

// Window is the bounded, ordered subset of history actually sent to the
// model, with accounting for what was excluded.
type Window struct {
	Turns        []Turn  `json:"messages"`
	TotalTokens  int     `json:"total_tokens"`
	MaxTokens    int     `json:"max_tokens"`
	DroppedCount int     `json:"dropped_count"`
	Utilization  float64 `json:"token_utilization"`
}

// Builder assembles context windows under a per-model token ceiling.
// Identical inputs always produce identical windows.
type Builder struct {
	estimator Estimator
	reserve   int
	logger    *slog.Logger
}

// NewBuilder creates a context window builder. A non-positive reserve falls
// back to DefaultReserveTokens.
func NewBuilder(estimator Estimator, reserveTokens int, logger *slog.Logger) *Builder {
	if estimator == nil {
		estimator = Approximate{}
	}
	if reserveTokens <= 0 {
		reserveTokens = DefaultReserveTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		estimator: estimator,
		reserve:   reserveTokens,
		logger:    logger,
	}
}

// Build selects and orders turns from history so the result fits the model's
// token ceiling minus the response reserve.
//
// The system prompt is included only when it fits whole. The last
// preserveRecent turns are favored: they are added oldest to newest, and the
// first one that would overflow is content-truncated at a word boundary
// instead of dropped. Older turns are then packed newest-first into the
// remaining budget, keeping chronological order among those included; each
// older turn that does not fit is counted in DroppedCount. The most recent
// turn is always present, truncated as a last resort.
func (b *Builder) Build(history []Turn, modelID, systemPrompt string, preserveRecent int) Window {
	maxTokens := ModelLimit(modelID)
	budget := maxTokens - b.reserve
	if budget < 0 {
		budget = 0
	}
	if preserveRecent <= 0 {
		preserveRecent = DefaultPreserveRecent
	}

	out := make([]Turn, 0, len(history)+1)
	total := 0
	systemIncluded := false

	if systemPrompt != "" {
		systemTokens := b.estimator.Count(systemPrompt)
		// All or nothing: a partially included system prompt is worse
		// than none.
		if systemTokens < budget {
			out = append(out, Turn{Role: RoleSystem, Content: systemPrompt, TokenCount: systemTokens})
			total += systemTokens
			systemIncluded = true
		} else {
			b.logger.Debug("system prompt exceeds budget, omitting",
				slog.Int("system_tokens", systemTokens),
				slog.Int("budget", budget),
			)
		}
	}

	turns := b.sanitize(history)
	split := len(turns) - preserveRecent
	if split < 0 {
		split = 0
	}
	older, recent := turns[:split], turns[split:]

	recentCost := 0
	for _, turn := range recent {
		recentCost += TurnCost(turn.TokenCount)
	}

	lastIncluded := len(recent) == 0
	if total+recentCost <= budget {
		for _, turn := range recent {
			out = append(out, turn)
			total += TurnCost(turn.TokenCount)
		}
		lastIncluded = true
	} else {
		b.logger.Warn("recent turns exceed budget, truncating content",
			slog.Int("recent_tokens", recentCost),
			slog.Int("budget", budget-total),
		)
		for i, turn := range recent {
			cost := TurnCost(turn.TokenCount)
			if total+cost <= budget {
				out = append(out, turn)
				total += cost
				lastIncluded = lastIncluded || i == len(recent)-1
				continue
			}

			available := budget - total - truncateBuffer
			if available > truncateMinTokens {
				truncated := b.truncateTurn(turn, available)
				out = append(out, truncated)
				total += TurnCost(truncated.TokenCount)
				lastIncluded = lastIncluded || i == len(recent)-1
			}
			break
		}
	}

	// The single most recent turn must never be dropped wholesale; force
	// a truncated copy into whatever budget remains.
	if !lastIncluded {
		last := recent[len(recent)-1]
		available := budget - total - truncateBuffer
		if available < 0 {
			available = 0
		}
		truncated := b.truncateTurn(last, available)
		out = append(out, truncated)
		total += TurnCost(truncated.TokenCount)
	}

	insertAt := 0
	if systemIncluded {
		insertAt = 1
	}
	dropped := 0
	for i := len(older) - 1; i >= 0; i-- {
		cost := TurnCost(older[i].TokenCount)
		if total+cost <= budget {
			out = slices.Insert(out, insertAt, older[i])
			total += cost
		} else {
			dropped++
		}
	}

	utilization := float64(0)
	if maxTokens > 0 {
		utilization = float64(total) / float64(maxTokens) * 100
	}

	b.logger.Debug("context window built",
		slog.String("model", modelID),
		slog.Int("turns", len(out)),
		slog.Int("total_tokens", total),
		slog.Int("max_tokens", maxTokens),
		slog.Int("dropped", dropped),
	)

	return Window{
		Turns:        out,
		TotalTokens:  total,
		MaxTokens:    maxTokens,
		DroppedCount: dropped,
		Utilization:  utilization,
	}
}

// sanitize drops malformed turns and fills in missing token counts.
func (b *Builder) sanitize(history []Turn) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, turn := range history {
		if turn.Role == "" || turn.Content == "" {
			continue
		}
		if turn.TokenCount <= 0 {
			turn.TokenCount = b.estimator.Count(turn.Content)
		}
		turns = append(turns, turn)
	}
	return turns
}

// truncateTurn cuts a turn's content down to roughly maxTokens, breaking at
// a word boundary and appending an ellipsis marker, then recomputes its
// token count.
func (b *Builder) truncateTurn(turn Turn, maxTokens int) Turn {
	turn.Content = b.truncateContent(turn.Content, maxTokens)
	turn.TokenCount = b.estimator.Count(turn.Content)
	return turn
}

func (b *Builder) truncateContent(content string, maxTokens int) string {
	current := b.estimator.Count(content)
	if current <= maxTokens {
		return content
	}

	runes := []rune(content)
	ratio := float64(maxTokens) / float64(current)
	target := int(float64(len(runes)) * ratio * 0.9) // safety margin

	if target < truncateMinRunes {
		if len(runes) <= truncateMinRunes {
			return content
		}
		return string(runes[:truncateMinRunes]) + ellipsis
	}

	cut := string(runes[:target])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + ellipsis
}
