package game

import (
	"fmt"
	"math/rand"
)

type Suit string

const (
	Spades   Suit = "S"
	Hearts   Suit = "H"
	Diamonds Suit = "D"
	Clubs    Suit = "C"
)

var suitString = map[Suit]string{
	Spades:   "Spades",
	Hearts:   "Hearts",
	Diamonds: "Diamonds",
	Clubs:    "Clubs",
}

func (s Suit) String() string {
	return suitString[s]
}

type Rank string

const (
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ace   Rank = "A"
)

// Suits and Ranks fix the iteration order so deck construction is
// deterministic before shuffling.
var Suits = []Suit{Spades, Hearts, Diamonds, Clubs}

var Ranks = []Rank{Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

var rankValue = map[Rank]int{
	Two:   2,
	Three: 3,
	Four:  4,
	Five:  5,
	Six:   6,
	Seven: 7,
	Eight: 8,
	Nine:  9,
	Ten:   10,
	Jack:  11,
	Queen: 12,
	King:  13,
	Ace:   14,
}

// Card is an immutable value. Value is carried in the struct so snapshots
// serialize losslessly without clients needing the rank table.
type Card struct {
	Suit  Suit `json:"suit"`
	Rank  Rank `json:"rank"`
	Value int  `json:"value"`
}

func NewCard(suit Suit, rank Rank) Card {
	return Card{Suit: suit, Rank: rank, Value: rankValue[rank]}
}

func (c Card) String() string {
	return fmt.Sprintf("%s of %s", c.Rank, c.Suit)
}

func (c Card) Equals(other Card) bool {
	return c.Suit == other.Suit && c.Rank == other.Rank
}

// NewDeck builds the standard 52-card deck, one card per (suit, rank).
func NewDeck() []Card {
	deck := make([]Card, 0, 52)
	for _, suit := range Suits {
		for _, rank := range Ranks {
			deck = append(deck, NewCard(suit, rank))
		}
	}
	return deck
}

// Shuffle permutes the deck in place (Fisher-Yates). Each call draws fresh
// randomness.
func Shuffle(deck []Card) {
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
}

// DealHands shuffles a fresh deck and distributes it round-robin starting at
// seat 0. Hand sizes differ by at most one.
func DealHands(numPlayers int) [][]Card {
	deck := NewDeck()
	Shuffle(deck)

	hands := make([][]Card, numPlayers)
	for i := range hands {
		hands[i] = make([]Card, 0, len(deck)/numPlayers+1)
	}
	for i, card := range deck {
		hands[i%numPlayers] = append(hands[i%numPlayers], card)
	}
	return hands
}
