package types

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/bingo-client/internal/engine"
)

// Decode turns one inbound frame into an engine event. Every failure wraps
// ErrProtocol.
func Decode(data []byte) (engine.Event, error) {
	var m ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return engine.Event{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return ToEvent(m)
}

func ToEvent(m ServerMessage) (engine.Event, error) {
	switch engine.EventType(m.Type) {
	case engine.EvtGameState:
		if m.State == nil {
			return engine.Event{}, fmt.Errorf("%w: game_state without state", ErrProtocol)
		}
		snap, err := toSnapshot(*m.State, m.PlayerCard)
		if err != nil {
			return engine.Event{}, err
		}
		return engine.Event{Type: engine.EvtGameState, Snapshot: &snap}, nil

	case engine.EvtNumberDrawn:
		if m.Number == nil {
			return engine.Event{}, fmt.Errorf("%w: number_drawn without number", ErrProtocol)
		}
		return engine.Event{Type: engine.EvtNumberDrawn, Number: *m.Number}, nil

	case engine.EvtNumberSelected:
		if m.Number == nil {
			return engine.Event{}, fmt.Errorf("%w: number_selected without number", ErrProtocol)
		}
		return engine.Event{Type: engine.EvtNumberSelected, Number: *m.Number, Success: m.Success != nil && *m.Success}, nil

	case engine.EvtBingoClaimed:
		if m.Player == "" {
			return engine.Event{}, fmt.Errorf("%w: bingo_claimed without player", ErrProtocol)
		}
		return engine.Event{Type: engine.EvtBingoClaimed, Player: m.Player, Success: m.Success != nil && *m.Success}, nil

	case engine.EvtPlayerJoined:
		if m.Player == "" {
			return engine.Event{}, fmt.Errorf("%w: player_joined without player", ErrProtocol)
		}
		return engine.Event{Type: engine.EvtPlayerJoined, Player: m.Player}, nil

	case engine.EvtGameStarting:
		return engine.Event{Type: engine.EvtGameStarting}, nil

	default:
		return engine.Event{}, fmt.Errorf("%w: unknown type %q", ErrProtocol, m.Type)
	}
}

func toSnapshot(st GameStateDTO, pc *PlayerCardDTO) (engine.Snapshot, error) {
	snap := engine.Snapshot{
		GameID:        st.ID.String(),
		CurrentNumber: st.CurrentNumber,
		DrawnNumbers:  st.DrawnNumbers,
		CreatedAt:     st.CreatedAt.Time,
	}

	switch engine.Status(st.Status) {
	case engine.StatusWaiting, engine.StatusPlaying, engine.StatusFinished:
		snap.Status = engine.Status(st.Status)
	case "":
	default:
		return engine.Snapshot{}, fmt.Errorf("%w: unknown status %q", ErrProtocol, st.Status)
	}

	if st.Winner != nil {
		snap.Winner = *st.Winner
	}
	for _, p := range st.Players {
		snap.Players = append(snap.Players, engine.PlayerView{Username: p.Username, Disqualified: p.IsDisqualified})
	}

	if pc != nil {
		card, err := engine.NewCard(pc.CardNumbers)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("%w: player_card: %v", ErrProtocol, err)
		}
		snap.Card = &engine.OwnCard{
			ID:       pc.ID,
			Numbers:  card,
			Selected: pc.SelectedNumbers,
			IsWinner: pc.IsWinner,
		}
	}
	return snap, nil
}
