package keybind

import (
	"fmt"
	"strings"
)

var modifierOrder = []string{"ctrl", "alt", "shift", "meta"}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"c":       "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"opt":     "alt",
	"m":       "alt",
	"shift":   "shift",
	"s":       "shift",
	"meta":    "meta",
	"cmd":     "meta",
	"command": "meta",
	"super":   "meta",
	"win":     "meta",
}

// NormalizeKeys returns the canonical form of a key sequence. Chords are
// separated by whitespace; within a chord, modifiers and the key are
// joined by "+" or "-" ("Ctrl+S", "C-s" and "ctrl+s" are the same).
func NormalizeKeys(seq string) (string, error) {
	fields := strings.Fields(seq)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidKeys)
	}

	chords := make([]string, len(fields))
	for i, f := range fields {
		c, err := normalizeChord(f)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidKeys, seq, err)
		}
		chords[i] = c
	}
	return strings.Join(chords, " "), nil
}

func normalizeChord(chord string) (string, error) {
	parts := splitChord(strings.ToLower(chord))

	mods := make(map[string]bool)
	var key string
	for i, p := range parts {
		last := i == len(parts)-1
		if mod, ok := modifierAliases[p]; ok && !last {
			mods[mod] = true
			continue
		}
		if !last {
			return "", fmt.Errorf("unknown modifier %q", p)
		}
		key = p
	}
	if key == "" {
		return "", fmt.Errorf("chord %q has no key", chord)
	}

	out := make([]string, 0, len(mods)+1)
	for _, m := range modifierOrder {
		if mods[m] {
			out = append(out, m)
		}
	}
	return strings.Join(append(out, key), "+"), nil
}

// splitChord splits on "+" or "-" while keeping a trailing separator as
// the key itself, so "ctrl++" is ctrl and "+".
func splitChord(chord string) []string {
	if len(chord) == 1 {
		return []string{chord}
	}
	var parts []string
	start := 0
	for i := 0; i < len(chord); i++ {
		if (chord[i] == '+' || chord[i] == '-') && i > start {
			parts = append(parts, chord[start:i])
			start = i + 1
		}
	}
	return append(parts, chord[start:])
}
