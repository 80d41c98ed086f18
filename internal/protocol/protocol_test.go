package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	codecs := map[string]Codec{
		"json":    JSONCodec{},
		"msgpack": MsgpackCodec{},
	}

	for name, codec := range codecs {
		t.Run(name, func(t *testing.T) {
			in := Envelope{
				RequestID: 7,
				Action:    ClientLogin,
				Payload:   Login{Protocol: "0.1", GameIdent: "shooter", GameVersion: "1.0", PlayerName: "ivy"}.Tuple(),
			}

			data, err := codec.Encode(in)
			require.NoError(t, err)

			out, err := codec.Decode(data)
			require.NoError(t, err)
			require.Equal(t, uint32(7), out.RequestID)
			require.Equal(t, ClientLogin, out.Action)

			login, err := DecodeLogin(out.Payload)
			require.NoError(t, err)
			require.Equal(t, "shooter", login.GameIdent)
			require.Equal(t, "ivy", login.PlayerName)
		})
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	bad := []string{
		`{"requestId":1}`,      // not a tuple
		`[1,2]`,                // wrong arity
		`[1,2,3,4]`,            // wrong arity
		`[-1,1,null]`,          // negative request id
		`[1,-1,null]`,          // negative action
		`[1.5,1,null]`,         // fractional request id
		`["1",1,null]`,         // non-numeric request id
		`[1,200,null]`,         // unknown action code
		`this is not json`,     // garbage
		`[1,1,null] trailing?`, // trailing garbage
	}

	codec := JSONCodec{}
	for _, input := range bad {
		_, err := codec.Decode([]byte(input))
		require.ErrorIs(t, err, ErrMalformed, "input %q", input)
	}
}

func TestDecodeAcceptsNotificationEnvelope(t *testing.T) {
	env, err := JSONCodec{}.Decode([]byte(`[0,44,null]`))
	require.NoError(t, err)
	require.Equal(t, uint32(0), env.RequestID)
	require.Equal(t, ServerRoomLoad, env.Action)
	require.Nil(t, env.Payload)
}

func TestTickUpdateRoundTrip(t *testing.T) {
	update := TickUpdate{
		Tick: 42,
		Events: []PlayerEvent{
			{Player: 3, Data: "fire"},
			{Player: 9, Data: []any{"move", float64(2)}},
		},
	}

	data, err := JSONCodec{}.Encode(Envelope{Action: ServerTickUpdate, Payload: update.Tuple()})
	require.NoError(t, err)

	env, err := JSONCodec{}.Decode(data)
	require.NoError(t, err)

	decoded, err := DecodeTickUpdate(env.Payload)
	require.NoError(t, err)
	require.Equal(t, 42, decoded.Tick)
	require.Len(t, decoded.Events, 2)
	require.Equal(t, PlayerID(3), decoded.Events[0].Player)
	require.Equal(t, "fire", decoded.Events[0].Data)
}

func TestRoomInfoRoundTrip(t *testing.T) {
	info := RoomInfo{
		ID: "12-3456-7890-1234", Name: "duel", GameIdent: "shooter", GameVersion: "1.0",
		PlayerCount: 2, MinPlayers: 2, MaxPlayers: 4, TickRate: 30,
	}
	decoded, err := DecodeRoomInfo(info.Tuple())
	require.NoError(t, err)
	require.Equal(t, info, decoded)
}

func TestValidators(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
		got  bool
	}{
		{"version good", true, ValidVersion("0.1")},
		{"version trailing junk", false, ValidVersion("0.1-beta")},
		{"ident good", true, ValidGameIdent("my-game_2")},
		{"ident too short", false, ValidGameIdent("ab")},
		{"ident bad chars", false, ValidGameIdent("my game!")},
		{"name good", true, ValidPlayerName("ivy")},
		{"name too short", false, ValidPlayerName("iv")},
		{"name too long", false, ValidPlayerName("abcdefghijklmnopq")},
		{"room id good", true, ValidRoomID("12-3456-7890-1234")},
		{"room id bad shape", false, ValidRoomID("123-456-789")},
		{"param key good", true, ValidParamKey("mode")},
		{"param key empty", false, ValidParamKey("")},
		{"password nil", true, ValidPassword(nil)},
		{"password empty", false, ValidPassword(ptr(""))},
		{"password good", true, ValidPassword(ptr("hunter2"))},
		{"tick index low", false, ValidTickIndex(-1)},
		{"tick index high", false, ValidTickIndex(256)},
		{"tick index edge", true, ValidTickIndex(255)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ok, tc.got)
		})
	}
}

func TestParamsPreserveInsertionOrder(t *testing.T) {
	p := NewParams()
	p.Set("mode", "ffa")
	p.Set("map", "arena")
	p.Set("mode", "teams") // overwrite keeps original position

	var keys []string
	var values []any
	p.Each(func(k string, v any) {
		keys = append(keys, k)
		values = append(values, v)
	})

	require.Equal(t, []string{"mode", "map"}, keys)
	require.Equal(t, []any{"teams", "arena"}, values)
	require.Equal(t, 2, p.Len())
}

func ptr(s string) *string { return &s }
