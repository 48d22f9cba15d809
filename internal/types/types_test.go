package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/bingo-client/internal/engine"
)

func TestDecode_GameState(t *testing.T) {
	frame := `{
		"type": "game_state",
		"state": {
			"id": 17,
			"status": "playing",
			"currentNumber": 9,
			"drawnNumbers": [3, 7, 9],
			"players": [{"username": "ana"}, {"username": "beto", "is_disqualified": true}],
			"winner": null
		},
		"player_card": {
			"id": 4,
			"card_numbers": [[1,2,3,4,5],[6,7,8,9,10],[11,0,13,14,15],[16,17,18,19,20],[21,22,23,24,25]],
			"selected_numbers": [3],
			"is_winner": false
		}
	}`

	evt, err := Decode([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, engine.EvtGameState, evt.Type)
	require.NotNil(t, evt.Snapshot)

	snap := evt.Snapshot
	assert.Equal(t, "17", snap.GameID)
	assert.Equal(t, engine.StatusPlaying, snap.Status)
	assert.Equal(t, []int{3, 7, 9}, snap.DrawnNumbers)
	require.NotNil(t, snap.CurrentNumber)
	assert.Equal(t, 9, *snap.CurrentNumber)
	assert.Equal(t, []engine.PlayerView{{Username: "ana"}, {Username: "beto", Disqualified: true}}, snap.Players)
	require.NotNil(t, snap.Card)
	assert.Equal(t, 4, snap.Card.ID)
	assert.True(t, snap.Card.Numbers.Contains(0))
	assert.Equal(t, []int{3}, snap.Card.Selected)
}

func TestDecode_Events(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  engine.Event
	}{
		{name: "number drawn", frame: `{"type":"number_drawn","number":12}`, want: engine.Event{Type: engine.EvtNumberDrawn, Number: 12}},
		{name: "selection ack", frame: `{"type":"number_selected","success":true,"number":12}`, want: engine.Event{Type: engine.EvtNumberSelected, Number: 12, Success: true}},
		{name: "selection without success flag", frame: `{"type":"number_selected","number":12}`, want: engine.Event{Type: engine.EvtNumberSelected, Number: 12}},
		{name: "bingo claimed", frame: `{"type":"bingo_claimed","success":false,"player":"ana"}`, want: engine.Event{Type: engine.EvtBingoClaimed, Player: "ana"}},
		{name: "player joined", frame: `{"type":"player_joined","player":"beto"}`, want: engine.Event{Type: engine.EvtPlayerJoined, Player: "beto"}},
		{name: "game starting", frame: `{"type":"game_starting"}`, want: engine.Event{Type: engine.EvtGameStarting}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := Decode([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.want, evt)
		})
	}
}

func TestDecode_ProtocolErrors(t *testing.T) {
	frames := map[string]string{
		"not json":          `{"type":`,
		"unknown type":      `{"type":"confetti"}`,
		"draw w/o number":   `{"type":"number_drawn"}`,
		"claim w/o player":  `{"type":"bingo_claimed","success":true}`,
		"state w/o payload": `{"type":"game_state"}`,
		"bad status":        `{"type":"game_state","state":{"status":"paused"}}`,
		"bad card":          `{"type":"game_state","state":{"status":"playing"},"player_card":{"card_numbers":[[1,2,3]]}}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestClientMessages(t *testing.T) {
	b, err := json.Marshal(SelectNumber(12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"select_number","number":12}`, string(b))

	b, err = json.Marshal(ClaimBingo())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"claim_bingo"}`, string(b))
}

func TestGameIDAndTimestamp(t *testing.T) {
	var v struct {
		ID        GameID    `json:"id"`
		CreatedAt Timestamp `json:"created_at"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc","created_at":1700000000}`), &v))
	assert.Equal(t, GameID("abc"), v.ID)
	assert.Equal(t, int64(1700000000), v.CreatedAt.Unix())

	require.NoError(t, json.Unmarshal([]byte(`{"id":99,"created_at":"2024-05-01T10:00:00Z"}`), &v))
	assert.Equal(t, GameID("99"), v.ID)
	assert.True(t, v.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"created_at":1700000000.5}`), &v))
	assert.Equal(t, 500*time.Millisecond, time.Duration(v.CreatedAt.Nanosecond()))
}

func TestTimestamp_OutOfRange(t *testing.T) {
	cases := []string{
		`1e300`,
		`-1e300`,
		`"1e19"`,
		`"NaN"`,
		`"+Inf"`,
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			var ts Timestamp
			require.ErrorIs(t, json.Unmarshal([]byte(raw), &ts), ErrProtocol)
		})
	}

	_, err := Decode([]byte(`{"type":"game_state","state":{"status":"playing","created_at":9.3e18}}`))
	require.ErrorIs(t, err, ErrProtocol)
}
