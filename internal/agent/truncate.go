package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/tessellate-ai/loom/pkg/models"
)

// SummaryMetadataKey marks the synthetic summary message produced by
// truncation. Its presence is how an already-truncated history is
// recognized, which makes truncation idempotent.
const SummaryMetadataKey = "loom_summary"

// TruncateOptions configures history truncation.
type TruncateOptions struct {
	// KeepRecent is how many trailing messages survive verbatim.
	// Default: 20.
	KeepRecent int

	// CompressOldest is how many of the oldest messages are kept in
	// compressed form ahead of the verbatim tail. Default: 5.
	CompressOldest int

	// CompressChars clips compressed message text. Default: 200.
	CompressChars int
}

// DefaultTruncateOptions returns the production defaults.
func DefaultTruncateOptions() TruncateOptions {
	return TruncateOptions{
		KeepRecent:     20,
		CompressOldest: 5,
		CompressChars:  200,
	}
}

// Truncator bounds conversation history before each provider request.
// Output length is bounded independent of input length: at most one
// summary message, CompressOldest compressed messages, and KeepRecent
// verbatim messages.
type Truncator struct {
	opts TruncateOptions
}

// NewTruncator creates a truncator, filling zero options with defaults.
func NewTruncator(opts TruncateOptions) *Truncator {
	if opts.KeepRecent <= 0 {
		opts.KeepRecent = 20
	}
	if opts.CompressOldest < 0 {
		opts.CompressOldest = 0
	}
	if opts.CompressChars <= 0 {
		opts.CompressChars = 200
	}
	return &Truncator{opts: opts}
}

// Truncate returns a bounded copy of history. Histories at or under
// the keep budget pass through unchanged. Applying Truncate to its
// own output is a no-op.
func (t *Truncator) Truncate(history []models.Message) []models.Message {
	if len(history) <= t.opts.KeepRecent {
		return history
	}

	// An existing summary at the head means this history was already
	// truncated; re-truncating it would double-summarize.
	if isSummaryMessage(&history[0]) {
		if len(history) <= 1+t.opts.CompressOldest+t.opts.KeepRecent {
			return history
		}
		// History grew past budget again: drop the old summary and
		// re-truncate the remainder.
		return t.Truncate(history[1:])
	}

	older := history[:len(history)-t.opts.KeepRecent]
	recent := history[len(history)-t.opts.KeepRecent:]

	out := make([]models.Message, 0, 1+t.opts.CompressOldest+len(recent))
	out = append(out, t.summaryMessage(len(older)))

	n := t.opts.CompressOldest
	if n > len(older) {
		n = len(older)
	}
	for i := 0; i < n; i++ {
		out = append(out, t.compress(older[i]))
	}

	out = append(out, recent...)
	return out
}

// summaryMessage builds the marker message standing in for the
// dropped prefix.
func (t *Truncator) summaryMessage(dropped int) models.Message {
	// RoleUser, not RoleSystem: system never appears inline in the
	// turn sequence and some adapters drop it from history.
	return models.Message{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("[%d older messages summarized]", dropped),
		Metadata: map[string]any{
			SummaryMetadataKey: true,
		},
		CreatedAt: time.Now(),
	}
}

// compress reduces a message to a short representative form.
// Tool-bearing messages become a tool-name note since their payloads
// dominate history size.
func (t *Truncator) compress(m models.Message) models.Message {
	c := models.Message{
		ID:        m.ID,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
	}

	if m.HasTools() {
		names := toolNames(m)
		c.Content = "[used tools: " + strings.Join(names, ", ") + "]"
		return c
	}

	content := m.Content
	if len(content) > t.opts.CompressChars {
		content = content[:t.opts.CompressChars] + "..."
	}
	c.Content = content
	return c
}

func toolNames(m models.Message) []string {
	seen := make(map[string]bool)
	var names []string
	for _, tc := range m.ToolCalls {
		if !seen[tc.Name] {
			seen[tc.Name] = true
			names = append(names, tc.Name)
		}
	}
	if len(names) == 0 && len(m.ToolResults) > 0 {
		names = append(names, "tool results")
	}
	return names
}

func isSummaryMessage(m *models.Message) bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[SummaryMetadataKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
