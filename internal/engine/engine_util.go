package engine

import (
	"fmt"
	"slices"
)

func NewEmptyState(gameID, self string) State {
	return State{
		GameID:       gameID,
		Self:         self,
		Status:       StatusWaiting,
		DrawnNumbers: []int{},
		Players:      []PlayerView{},
	}
}

// Clone returns a deep copy so reducers can mutate without touching s.
func (s State) Clone() State {
	c := s
	c.DrawnNumbers = slices.Clone(s.DrawnNumbers)
	c.Players = slices.Clone(s.Players)
	if s.CurrentNumber != nil {
		n := *s.CurrentNumber
		c.CurrentNumber = &n
	}
	if s.Card != nil {
		card := *s.Card
		card.Selected = slices.Clone(s.Card.Selected)
		c.Card = &card
	}
	return c
}

func ContainsEffect(effects []Effect, effectType EffectType) bool {
	for _, effect := range effects {
		if effect.Type == effectType {
			return true
		}
	}
	return false
}

func IsDrawn(s State, n int) bool {
	return slices.Contains(s.DrawnNumbers, n)
}

func OnCard(s State, n int) bool {
	return s.Card != nil && s.Card.Numbers.Contains(n)
}

// IsMarked reports whether n counts as selected on the own card.
func IsMarked(s State, n int) bool {
	if s.Card == nil || !s.Card.Numbers.Contains(n) {
		return false
	}
	return n == Wild || slices.Contains(s.Card.Selected, n)
}

// CanSelect is the local precondition for a select_number intent.
func CanSelect(s State, n int) error {
	if err := canAct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}
	if s.Card == nil {
		return fmt.Errorf("%w: %w", ErrInvalidSelection, ErrNoCard)
	}
	if !s.Card.Numbers.Contains(n) {
		return fmt.Errorf("%w: %d: %w", ErrInvalidSelection, n, ErrNotOnCard)
	}
	if n == Wild || slices.Contains(s.Card.Selected, n) {
		return fmt.Errorf("%w: %d already selected", ErrInvalidSelection, n)
	}
	if !slices.Contains(s.DrawnNumbers, n) {
		return fmt.Errorf("%w: %d: %w", ErrInvalidSelection, n, ErrNotDrawn)
	}
	return nil
}

// CanClaim is the local precondition for a claim_bingo intent. Whether the
// card actually wins is decided by the server.
func CanClaim(s State) error {
	if err := canAct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidClaim, err)
	}
	return nil
}

func canAct(s State) error {
	if s.Disqualified {
		return ErrDisqualified
	}
	if s.Status != StatusPlaying {
		return fmt.Errorf("%w: game is %s", ErrWrongStatus, s.Status)
	}
	return nil
}
