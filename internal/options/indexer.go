// Package options maps ordered selectable values to single-letter choice
// codes and resolves user replies back to the chosen value.
package options

import (
	"errors"
	"fmt"
	"strings"
)

// MaxOptions is bounded by the alphabet. Option sets in this domain are
// small (specialties, a handful of doctors or dates); callers with larger
// sets page explicitly and tell the user the list is cut.
const MaxOptions = 26

var ErrTooManyOptions = errors.New("too many options for letter indexing")

// Option is one selectable entry. Value is what the flow stores (an id, a
// date string); Display is what the user sees next to the letter. Alias is
// an optional second match string for when the display decorates the
// underlying name (a "Dr." prefix, a specialty suffix) and the user types
// the bare form instead.
type Option struct {
	Value   string
	Display string
	Alias   string
}

// Index assigns letters A, B, C, ... to options by position.
type Index struct {
	opts []Option
}

func NewIndex(opts []Option) (*Index, error) {
	if len(opts) > MaxOptions {
		return nil, fmt.Errorf("%w: %d options", ErrTooManyOptions, len(opts))
	}
	copied := make([]Option, len(opts))
	copy(copied, opts)
	return &Index{opts: copied}, nil
}

// FromValues builds an index where each value is its own display text.
func FromValues(values []string) (*Index, error) {
	opts := make([]Option, 0, len(values))
	for _, v := range values {
		opts = append(opts, Option{Value: v, Display: v})
	}
	return NewIndex(opts)
}

func (ix *Index) Len() int {
	return len(ix.opts)
}

func (ix *Index) Options() []Option {
	out := make([]Option, len(ix.opts))
	copy(out, ix.opts)
	return out
}

// Letter returns the choice code for position i ("A" for 0).
func Letter(i int) string {
	return string(rune('A' + i))
}

// Lines renders the prompt body, one "A. Display" line per option.
func (ix *Index) Lines() []string {
	lines := make([]string, 0, len(ix.opts))
	for i, opt := range ix.opts {
		lines = append(lines, fmt.Sprintf("%s. %s", Letter(i), opt.Display))
	}
	return lines
}

// Resolve matches raw user input to an option. A trimmed, uppercased
// single-letter reply wins first; otherwise the options are scanned in
// position order for one whose display text appears inside the input,
// case-insensitively, and then again for one whose alias does. The bool is
// false when nothing matches and the caller must re-render the same prompt
// unchanged.
func (ix *Index) Resolve(input string) (Option, bool) {
	letter := strings.ToUpper(strings.TrimSpace(input))
	if len(letter) == 1 && letter[0] >= 'A' && letter[0] <= 'Z' {
		pos := int(letter[0] - 'A')
		if pos < len(ix.opts) {
			return ix.opts[pos], true
		}
	}

	lowered := strings.ToLower(input)
	for _, opt := range ix.opts {
		if opt.Display == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(opt.Display)) {
			return opt, true
		}
	}
	for _, opt := range ix.opts {
		if opt.Alias == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(opt.Alias)) {
			return opt, true
		}
	}

	return Option{}, false
}

// Without returns a new index with the option holding the given value
// removed, letters reassigned by the remaining positions.
func (ix *Index) Without(value string) *Index {
	remaining := make([]Option, 0, len(ix.opts))
	for _, opt := range ix.opts {
		if opt.Value != value {
			remaining = append(remaining, opt)
		}
	}
	return &Index{opts: remaining}
}
