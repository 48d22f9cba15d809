// Package types holds the JSON shapes exchanged with the game server and the
// translation of inbound frames into engine events.
//
// Server -> Client (by "type"):
//
//	game_state      {state, player_card}
//	number_drawn    {number}
//	number_selected {success, number}
//	bingo_claimed   {success, player}
//	player_joined   {player}
//	game_starting   {}
//
// Client -> Server (by "action"):
//
//	select_number {number}
//	claim_bingo   {}
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrProtocol = errors.New("protocol error")

const (
	ActionSelectNumber = "select_number"
	ActionClaimBingo   = "claim_bingo"
)

type ClientMessage struct {
	Action string `json:"action"`
	Number *int   `json:"number,omitempty"`
}

func SelectNumber(n int) ClientMessage {
	return ClientMessage{Action: ActionSelectNumber, Number: &n}
}

func ClaimBingo() ClientMessage {
	return ClientMessage{Action: ActionClaimBingo}
}

type ServerMessage struct {
	Type       string         `json:"type"`
	State      *GameStateDTO  `json:"state,omitempty"`
	PlayerCard *PlayerCardDTO `json:"player_card,omitempty"`
	Number     *int           `json:"number,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	Player     string         `json:"player,omitempty"`
}

type PlayerDTO struct {
	Username       string `json:"username"`
	IsDisqualified bool   `json:"is_disqualified,omitempty"`
}

type GameStateDTO struct {
	ID            GameID      `json:"id,omitempty"`
	Status        string      `json:"status"`
	CurrentNumber *int        `json:"currentNumber"`
	DrawnNumbers  []int       `json:"drawnNumbers"`
	Players       []PlayerDTO `json:"players"`
	Winner        *string     `json:"winner"`
	CreatedAt     Timestamp   `json:"created_at,omitempty"`
}

type PlayerCardDTO struct {
	ID              int     `json:"id"`
	CardNumbers     [][]int `json:"card_numbers"`
	SelectedNumbers []int   `json:"selected_numbers"`
	IsWinner        bool    `json:"is_winner"`
}

// GameID is the server's opaque game identifier. It arrives either as a JSON
// string or a JSON number and is kept as its decimal/string form.
type GameID string

func (id *GameID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = GameID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("game id: %w", err)
	}
	*id = GameID(n.String())
	return nil
}

func (id GameID) String() string { return string(id) }

// Timestamp accepts unix seconds (integer or fractional) or an RFC 3339
// string.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		ts.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			ts.Time = time.Time{}
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			t, err := fromUnix(f)
			if err != nil {
				return err
			}
			ts.Time = t
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		ts.Time = t
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	t, err := fromUnix(f)
	if err != nil {
		return err
	}
	ts.Time = t
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Unix())
}

// Seconds beyond this range overflow int64 nanoseconds.
const maxUnixSeconds = math.MaxInt64 / 1e9

func fromUnix(f float64) (time.Time, error) {
	if math.IsNaN(f) || f > maxUnixSeconds || f < -maxUnixSeconds {
		return time.Time{}, fmt.Errorf("%w: timestamp %v out of range", ErrProtocol, f)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
}
