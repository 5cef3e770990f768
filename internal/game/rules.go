package game

// TableCard records who played what in the current trick, in play order.
type TableCard struct {
	PlayerID string `json:"playerId"`
	Card     Card   `json:"card"`
}

// NoSuit means no suit has been led this trick.
const NoSuit Suit = ""

// StartingSeat returns the seat holding the Ace of Spades. A full deal always
// places it somewhere; seat 0 is the fallback for a short deck.
func StartingSeat(hands [][]Card) int {
	ace := NewCard(Spades, Ace)
	for seat, hand := range hands {
		for _, c := range hand {
			if c.Equals(ace) {
				return seat
			}
		}
	}
	return 0
}

// HasSuit reports whether the hand holds any card of the given suit.
func HasSuit(hand []Card, suit Suit) bool {
	for _, c := range hand {
		if c.Suit == suit {
			return true
		}
	}
	return false
}

// IsLegalMove checks the suit-following rule: anything goes when no suit has
// been led; otherwise the led suit must be followed when the hand can. A hand
// with no card of the led suit may discard anything (the thola case).
func IsLegalMove(hand []Card, card Card, ledSuit Suit) bool {
	if ledSuit == NoSuit {
		return true
	}
	if card.Suit == ledSuit {
		return true
	}
	return !HasSuit(hand, ledSuit)
}

// HighestOfSuit returns the player holding the highest table card of the led
// suit. The same player is the trick winner when everyone followed suit, and
// the thola recipient when someone discarded off-suit. Ties cannot occur in a
// single deck. ok is false when no table card matches the led suit.
func HighestOfSuit(ledSuit Suit, table []TableCard) (playerID string, ok bool) {
	highest := -1
	for _, tc := range table {
		if tc.Card.Suit == ledSuit && tc.Card.Value > highest {
			highest = tc.Card.Value
			playerID = tc.PlayerID
		}
	}
	return playerID, highest != -1
}
