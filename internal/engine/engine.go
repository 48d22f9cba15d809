package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrUnknownEvent = errors.New("unknown event")
var ErrMalformedEvent = errors.New("malformed event")
var ErrWrongStatus = errors.New("event not valid in current status")
var ErrDuplicateDraw = errors.New("number already drawn")
var ErrNumberOutOfRange = errors.New("number out of range")
var ErrNoCard = errors.New("no card assigned")
var ErrNotOnCard = errors.New("number not on card")
var ErrNotDrawn = errors.New("number not drawn yet")
var ErrGameFinished = errors.New("game already finished")
var ErrDisqualified = errors.New("player is disqualified")

var ErrInvalidSelection = errors.New("invalid selection")
var ErrInvalidClaim = errors.New("invalid claim")

const (
	MinNumber = 1
	MaxNumber = 75
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type PlayerView struct {
	Username     string `json:"username"`
	Disqualified bool   `json:"is_disqualified"`
}

type OwnCard struct {
	ID       int   `json:"id"`
	Numbers  Card  `json:"card_numbers"`
	Selected []int `json:"selected_numbers"`
	IsWinner bool  `json:"is_winner"`
}

type State struct {
	GameID        string       `json:"game_id"`
	Self          string       `json:"self"`
	Status        Status       `json:"status"`
	CurrentNumber *int         `json:"current_number,omitempty"`
	DrawnNumbers  []int        `json:"drawn_numbers"`
	Players       []PlayerView `json:"players"`
	Winner        string       `json:"winner,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Card          *OwnCard     `json:"card,omitempty"`
	Disqualified  bool         `json:"disqualified"`
}

type EventType string

const (
	EvtGameState      EventType = "game_state"
	EvtNumberDrawn    EventType = "number_drawn"
	EvtNumberSelected EventType = "number_selected"
	EvtBingoClaimed   EventType = "bingo_claimed"
	EvtPlayerJoined   EventType = "player_joined"
	EvtGameStarting   EventType = "game_starting"
)

// Event is one decoded inbound server message. Only the fields relevant to
// Type are populated.
type Event struct {
	Type     EventType
	Number   int
	Success  bool
	Player   string
	Snapshot *Snapshot
}

// Snapshot is the payload of a game_state event.
type Snapshot struct {
	GameID        string
	Status        Status
	CurrentNumber *int
	DrawnNumbers  []int
	Players       []PlayerView
	Winner        string
	CreatedAt     time.Time
	Card          *OwnCard
}

type EffectType string

const (
	EffResynced           EffectType = "Resynced"
	EffGameStarted        EffectType = "GameStarted"
	EffNumberDrawn        EffectType = "NumberDrawn"
	EffNumberMarked       EffectType = "NumberMarked"
	EffSelectionRejected  EffectType = "SelectionRejected"
	EffGameWon            EffectType = "GameWon"
	EffGameLost           EffectType = "GameLost"
	EffDisqualified       EffectType = "Disqualified"
	EffPlayerDisqualified EffectType = "PlayerDisqualified"
	EffPlayerJoined       EffectType = "PlayerJoined"
)

type Effect struct {
	Type   EffectType
	Number int
	Player string
}

/*
	game_state      -> Resynced (+ GameWon/GameLost if the snapshot is finished)
	game_starting   -> GameStarted
	number_drawn    -> NumberDrawn
	number_selected -> NumberMarked | SelectionRejected
	bingo_claimed   -> GameWon | GameLost | Disqualified | PlayerDisqualified
	player_joined   -> PlayerJoined
*/

// Apply folds one inbound event into s. s is never mutated; on error the
// returned state is s unchanged and the event should be treated as ignored.
func Apply(s State, evt Event) ([]Effect, State, error) {
	switch evt.Type {
	case EvtGameState:
		if evt.Snapshot == nil {
			return nil, s, fmt.Errorf("%w: game_state without state", ErrMalformedEvent)
		}
		newState := fromSnapshot(s, *evt.Snapshot)
		events := []Effect{{Type: EffResynced}}
		if newState.Status == StatusFinished && newState.Winner != "" {
			events = append(events, outcomeEffect(newState))
		}
		return events, newState, nil

	case EvtGameStarting:
		if s.Status != StatusWaiting {
			return nil, s, fmt.Errorf("%w: game_starting while %s", ErrWrongStatus, s.Status)
		}
		newState := s.Clone()
		newState.Status = StatusPlaying
		return []Effect{{Type: EffGameStarted}}, newState, nil

	case EvtNumberDrawn:
		if s.Status != StatusPlaying {
			return nil, s, fmt.Errorf("%w: number_drawn while %s", ErrWrongStatus, s.Status)
		}
		if evt.Number < MinNumber || evt.Number > MaxNumber {
			return nil, s, fmt.Errorf("%w: %d", ErrNumberOutOfRange, evt.Number)
		}
		if slices.Contains(s.DrawnNumbers, evt.Number) {
			return nil, s, fmt.Errorf("%w: %d", ErrDuplicateDraw, evt.Number)
		}

		newState := s.Clone()
		newState.DrawnNumbers = append(newState.DrawnNumbers, evt.Number)
		n := evt.Number
		newState.CurrentNumber = &n
		return []Effect{{Type: EffNumberDrawn, Number: n}}, newState, nil

	case EvtNumberSelected:
		if s.Status == StatusFinished {
			return nil, s, ErrGameFinished
		}
		if !evt.Success {
			// Server rejected the selection; nothing was marked.
			return []Effect{{Type: EffSelectionRejected, Number: evt.Number}}, s, nil
		}
		if s.Card == nil {
			return nil, s, ErrNoCard
		}
		if !s.Card.Numbers.Contains(evt.Number) {
			return nil, s, fmt.Errorf("%w: %d", ErrNotOnCard, evt.Number)
		}
		if evt.Number != Wild && !slices.Contains(s.DrawnNumbers, evt.Number) {
			return nil, s, fmt.Errorf("%w: %d", ErrNotDrawn, evt.Number)
		}
		if slices.Contains(s.Card.Selected, evt.Number) {
			return nil, s, nil
		}

		newState := s.Clone()
		newState.Card.Selected = append(newState.Card.Selected, evt.Number)
		return []Effect{{Type: EffNumberMarked, Number: evt.Number}}, newState, nil

	case EvtBingoClaimed:
		if s.Status != StatusPlaying {
			return nil, s, fmt.Errorf("%w: bingo_claimed while %s", ErrWrongStatus, s.Status)
		}
		if evt.Player == "" {
			return nil, s, fmt.Errorf("%w: bingo_claimed without player", ErrMalformedEvent)
		}

		newState := s.Clone()
		if evt.Success {
			newState.Status = StatusFinished
			newState.Winner = evt.Player
			if newState.Card != nil && evt.Player == newState.Self {
				newState.Card.IsWinner = true
			}
			return []Effect{outcomeEffect(newState)}, newState, nil
		}

		var events []Effect
		if markDisqualified(&newState, evt.Player) {
			events = append(events, Effect{Type: EffPlayerDisqualified, Player: evt.Player})
		}
		if evt.Player == newState.Self && !newState.Disqualified {
			newState.Disqualified = true
			events = append(events, Effect{Type: EffDisqualified, Player: evt.Player})
		}
		if len(events) == 0 {
			return nil, s, nil
		}
		return events, newState, nil

	case EvtPlayerJoined:
		if s.Status != StatusWaiting {
			return nil, s, fmt.Errorf("%w: player_joined while %s", ErrWrongStatus, s.Status)
		}
		if evt.Player == "" {
			return nil, s, fmt.Errorf("%w: player_joined without player", ErrMalformedEvent)
		}
		if hasPlayer(s, evt.Player) {
			return nil, s, nil
		}

		newState := s.Clone()
		newState.Players = append(newState.Players, PlayerView{Username: evt.Player})
		return []Effect{{Type: EffPlayerJoined, Player: evt.Player}}, newState, nil

	default:
		return nil, s, fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Type)
	}
}

// Replay folds events over initial, skipping the ones Apply rejects.
func Replay(initial State, events []Event) State {
	s := initial
	for _, evt := range events {
		_, next, err := Apply(s, evt)
		if err != nil {
			continue
		}
		s = next
	}
	return s
}

// fromSnapshot builds the resynced state. Disqualification flags survive a
// snapshot of the same game.
func fromSnapshot(prev State, snap Snapshot) State {
	s := State{
		GameID:    snap.GameID,
		Self:      prev.Self,
		Status:    snap.Status,
		Winner:    snap.Winner,
		CreatedAt: snap.CreatedAt,
	}
	if s.GameID == "" {
		s.GameID = prev.GameID
	}
	if s.Status == "" {
		s.Status = StatusPlaying
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = prev.CreatedAt
	}

	s.DrawnNumbers = make([]int, 0, len(snap.DrawnNumbers))
	for _, n := range snap.DrawnNumbers {
		if n < MinNumber || n > MaxNumber || slices.Contains(s.DrawnNumbers, n) {
			continue
		}
		s.DrawnNumbers = append(s.DrawnNumbers, n)
	}
	if snap.CurrentNumber != nil {
		n := *snap.CurrentNumber
		if n >= MinNumber && n <= MaxNumber {
			if !slices.Contains(s.DrawnNumbers, n) {
				s.DrawnNumbers = append(s.DrawnNumbers, n)
			}
			s.CurrentNumber = &n
		}
	}

	s.Players = make([]PlayerView, 0, len(snap.Players))
	for _, p := range snap.Players {
		if p.Username == "" || hasPlayer(s, p.Username) {
			continue
		}
		s.Players = append(s.Players, p)
	}

	if snap.Card != nil {
		card := *snap.Card
		card.Selected = make([]int, 0, len(snap.Card.Selected))
		for _, n := range snap.Card.Selected {
			if !card.Numbers.Contains(n) || slices.Contains(card.Selected, n) {
				continue
			}
			if n != Wild && !slices.Contains(s.DrawnNumbers, n) {
				continue
			}
			card.Selected = append(card.Selected, n)
		}
		s.Card = &card
	}

	for _, p := range s.Players {
		if p.Username == s.Self && p.Disqualified {
			s.Disqualified = true
		}
	}

	if prev.GameID != "" && prev.GameID == s.GameID {
		if prev.Disqualified {
			s.Disqualified = true
		}
		for _, p := range prev.Players {
			if p.Disqualified {
				markDisqualified(&s, p.Username)
			}
		}
	}
	if s.Disqualified && s.Self != "" {
		markDisqualified(&s, s.Self)
	}
	return s
}

func outcomeEffect(s State) Effect {
	if s.Self != "" && s.Winner == s.Self {
		return Effect{Type: EffGameWon, Player: s.Winner}
	}
	return Effect{Type: EffGameLost, Player: s.Winner}
}

// markDisqualified flips the roster flag for username. It reports whether the
// flag changed. s must already be a private copy.
func markDisqualified(s *State, username string) bool {
	for i := range s.Players {
		if s.Players[i].Username == username {
			if s.Players[i].Disqualified {
				return false
			}
			s.Players[i].Disqualified = true
			return true
		}
	}
	return false
}

func hasPlayer(s State, username string) bool {
	return slices.ContainsFunc(s.Players, func(p PlayerView) bool {
		return p.Username == username
	})
}
