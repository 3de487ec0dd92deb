// Package target turns detected evaluation spikes into a reproducible,
// deduplicated batch of pre-blunder test positions.
package target

import "strings"

// Position is a protocol-native position: a head (the startpos token or a
// full sfen board encoding) plus the ordered move tokens played from it.
type Position struct {
	Head  string
	Moves []string
}

// ParsePosition splits a position body on its " moves " separator. The head
// may itself contain spaces (sfen encodings do).
func ParsePosition(body string) Position {
	body = strings.TrimSpace(body)
	head, rest, found := strings.Cut(body, " moves ")
	if !found {
		return Position{Head: body}
	}
	var moves []string
	for _, tok := range strings.Fields(rest) {
		moves = append(moves, tok)
	}
	return Position{Head: head, Moves: moves}
}

// Rewind strips the last k move tokens. k >= len(Moves) collapses to the
// bare head.
func (p Position) Rewind(k int) Position {
	if k <= 0 {
		return p
	}
	if k >= len(p.Moves) {
		return Position{Head: p.Head}
	}
	kept := make([]string, len(p.Moves)-k)
	copy(kept, p.Moves[:len(p.Moves)-k])
	return Position{Head: p.Head, Moves: kept}
}

// String renders the wire form: "<head> moves <m1> <m2> ..." or the bare
// head when no moves remain.
func (p Position) String() string {
	if len(p.Moves) == 0 {
		return p.Head
	}
	return p.Head + " moves " + strings.Join(p.Moves, " ")
}
