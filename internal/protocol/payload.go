package protocol

import "fmt"

// PlayerID is the process-unique identity the server assigns at login.
type PlayerID uint32

// Payload decoding is a closed mapping from action code to typed variant:
// each Decode* function turns the generic decoded payload of one action into
// its struct form, failing with ErrMalformed on any shape violation. Tuple
// methods build the positional wire form for sending.

// Hello is the ServerHello payload.
type Hello struct {
	Protocol       string
	ServerVersion  string
	MinRoomPlayers int
	MaxRoomPlayers int
}

func (h Hello) Tuple() []any {
	return []any{h.Protocol, h.ServerVersion, h.MinRoomPlayers, h.MaxRoomPlayers}
}

func DecodeHello(v any) (Hello, error) {
	t, ok := asList(v)
	if !ok || len(t) != 4 {
		return Hello{}, ErrMalformed
	}
	var h Hello
	if h.Protocol, ok = asString(t[0]); !ok {
		return Hello{}, ErrMalformed
	}
	if h.ServerVersion, ok = asString(t[1]); !ok {
		return Hello{}, ErrMalformed
	}
	if h.MinRoomPlayers, ok = asInt(t[2]); !ok {
		return Hello{}, ErrMalformed
	}
	if h.MaxRoomPlayers, ok = asInt(t[3]); !ok {
		return Hello{}, ErrMalformed
	}
	return h, nil
}

// Login is the ClientLogin payload.
type Login struct {
	Protocol    string
	GameIdent   string
	GameVersion string
	PlayerName  string
}

func (l Login) Tuple() []any {
	return []any{l.Protocol, l.GameIdent, l.GameVersion, l.PlayerName}
}

func DecodeLogin(v any) (Login, error) {
	t, ok := asList(v)
	if !ok || len(t) != 4 {
		return Login{}, ErrMalformed
	}
	var l Login
	if l.Protocol, ok = asString(t[0]); !ok {
		return Login{}, ErrMalformed
	}
	if l.GameIdent, ok = asString(t[1]); !ok {
		return Login{}, ErrMalformed
	}
	if l.GameVersion, ok = asString(t[2]); !ok {
		return Login{}, ErrMalformed
	}
	if l.PlayerName, ok = asString(t[3]); !ok {
		return Login{}, ErrMalformed
	}
	return l, nil
}

// CreateRoom is the ClientRoomCreate payload. A nil password creates an open
// room; the empty string is not a valid password.
type CreateRoom struct {
	Name       string
	MinPlayers int
	MaxPlayers int
	TickRate   int
	Password   *string
}

func (c CreateRoom) Tuple() []any {
	return []any{c.Name, c.MinPlayers, c.MaxPlayers, c.TickRate, passwordValue(c.Password)}
}

func DecodeCreateRoom(v any) (CreateRoom, error) {
	t, ok := asList(v)
	if !ok || len(t) != 5 {
		return CreateRoom{}, ErrMalformed
	}
	var c CreateRoom
	if c.Name, ok = asString(t[0]); !ok {
		return CreateRoom{}, ErrMalformed
	}
	if c.MinPlayers, ok = asInt(t[1]); !ok {
		return CreateRoom{}, ErrMalformed
	}
	if c.MaxPlayers, ok = asInt(t[2]); !ok {
		return CreateRoom{}, ErrMalformed
	}
	if c.TickRate, ok = asInt(t[3]); !ok {
		return CreateRoom{}, ErrMalformed
	}
	if c.Password, ok = asPassword(t[4]); !ok {
		return CreateRoom{}, ErrMalformed
	}
	return c, nil
}

// JoinRoom is the ClientRoomJoin payload.
type JoinRoom struct {
	RoomID   string
	Password *string
}

func (j JoinRoom) Tuple() []any {
	return []any{j.RoomID, passwordValue(j.Password)}
}

func DecodeJoinRoom(v any) (JoinRoom, error) {
	t, ok := asList(v)
	if !ok || len(t) != 2 {
		return JoinRoom{}, ErrMalformed
	}
	var j JoinRoom
	if j.RoomID, ok = asString(t[0]); !ok {
		return JoinRoom{}, ErrMalformed
	}
	if j.Password, ok = asPassword(t[1]); !ok {
		return JoinRoom{}, ErrMalformed
	}
	return j, nil
}

// Param is both the ClientRoomSetParam payload and the ServerRoomParamSet
// notification payload.
type Param struct {
	Key   string
	Value any
}

func (p Param) Tuple() []any { return []any{p.Key, p.Value} }

func DecodeParam(v any) (Param, error) {
	t, ok := asList(v)
	if !ok || len(t) != 2 {
		return Param{}, ErrMalformed
	}
	key, ok := asString(t[0])
	if !ok {
		return Param{}, ErrMalformed
	}
	return Param{Key: key, Value: t[1]}, nil
}

// TickConfirm is the ClientTickConfirm payload: the tick the client believes
// it just received plus its locally queued input events.
type TickConfirm struct {
	Tick   int
	Events []any
}

func (c TickConfirm) Tuple() []any { return []any{c.Tick, c.Events} }

func DecodeTickConfirm(v any) (TickConfirm, error) {
	t, ok := asList(v)
	if !ok || len(t) != 2 {
		return TickConfirm{}, ErrMalformed
	}
	tick, ok := asInt(t[0])
	if !ok {
		return TickConfirm{}, ErrMalformed
	}
	events, ok := asList(t[1])
	if !ok {
		if t[1] == nil {
			events = nil
		} else {
			return TickConfirm{}, ErrMalformed
		}
	}
	return TickConfirm{Tick: tick, Events: events}, nil
}

// PlayerEvent is one element of a tick-update batch: an input event tagged
// with the sending player's id.
type PlayerEvent struct {
	Player PlayerID
	Data   any
}

func (e PlayerEvent) Tuple() []any { return []any{uint32(e.Player), e.Data} }

// TickUpdate is the ServerTickUpdate payload.
type TickUpdate struct {
	Tick   int
	Events []PlayerEvent
}

func (u TickUpdate) Tuple() []any {
	events := make([]any, len(u.Events))
	for i, e := range u.Events {
		events[i] = e.Tuple()
	}
	return []any{u.Tick, events}
}

func DecodeTickUpdate(v any) (TickUpdate, error) {
	t, ok := asList(v)
	if !ok || len(t) != 2 {
		return TickUpdate{}, ErrMalformed
	}
	tick, ok := asInt(t[0])
	if !ok {
		return TickUpdate{}, ErrMalformed
	}
	rows, ok := asList(t[1])
	if !ok {
		return TickUpdate{}, ErrMalformed
	}
	update := TickUpdate{Tick: tick, Events: make([]PlayerEvent, 0, len(rows))}
	for _, row := range rows {
		pair, ok := asList(row)
		if !ok || len(pair) != 2 {
			return TickUpdate{}, ErrMalformed
		}
		id, ok := asUint32(pair[0])
		if !ok {
			return TickUpdate{}, ErrMalformed
		}
		update.Events = append(update.Events, PlayerEvent{Player: PlayerID(id), Data: pair[1]})
	}
	return update, nil
}

// RoomInfo is the room snapshot row sent in room-list and room-joined
// messages.
type RoomInfo struct {
	ID          string
	Name        string
	GameIdent   string
	GameVersion string
	PlayerCount int
	MinPlayers  int
	MaxPlayers  int
	TickRate    int
}

func (r RoomInfo) Tuple() []any {
	return []any{
		r.ID, r.Name, r.GameIdent, r.GameVersion,
		r.PlayerCount, r.MinPlayers, r.MaxPlayers, r.TickRate,
	}
}

func DecodeRoomInfo(v any) (RoomInfo, error) {
	t, ok := asList(v)
	if !ok || len(t) != 8 {
		return RoomInfo{}, ErrMalformed
	}
	var r RoomInfo
	strs := []*string{&r.ID, &r.Name, &r.GameIdent, &r.GameVersion}
	for i, dst := range strs {
		if *dst, ok = asString(t[i]); !ok {
			return RoomInfo{}, ErrMalformed
		}
	}
	ints := []*int{&r.PlayerCount, &r.MinPlayers, &r.MaxPlayers, &r.TickRate}
	for i, dst := range ints {
		if *dst, ok = asInt(t[4+i]); !ok {
			return RoomInfo{}, ErrMalformed
		}
	}
	return r, nil
}

func DecodeRoomList(v any) ([]RoomInfo, error) {
	rows, ok := asList(v)
	if !ok {
		return nil, ErrMalformed
	}
	list := make([]RoomInfo, 0, len(rows))
	for _, row := range rows {
		info, err := DecodeRoomInfo(row)
		if err != nil {
			return nil, err
		}
		list = append(list, info)
	}
	return list, nil
}

// PlayerInfo is the player snapshot row: [id, name]. It is also the
// RespondLogin payload.
type PlayerInfo struct {
	ID   PlayerID
	Name string
}

func (p PlayerInfo) Tuple() []any { return []any{uint32(p.ID), p.Name} }

func DecodePlayerInfo(v any) (PlayerInfo, error) {
	t, ok := asList(v)
	if !ok || len(t) != 2 {
		return PlayerInfo{}, ErrMalformed
	}
	id, ok := asUint32(t[0])
	if !ok {
		return PlayerInfo{}, ErrMalformed
	}
	name, ok := asString(t[1])
	if !ok {
		return PlayerInfo{}, ErrMalformed
	}
	return PlayerInfo{ID: PlayerID(id), Name: name}, nil
}

func DecodePlayerList(v any) ([]PlayerInfo, error) {
	rows, ok := asList(v)
	if !ok {
		return nil, ErrMalformed
	}
	list := make([]PlayerInfo, 0, len(rows))
	for _, row := range rows {
		info, err := DecodePlayerInfo(row)
		if err != nil {
			return nil, err
		}
		list = append(list, info)
	}
	return list, nil
}

func DecodePlayerID(v any) (PlayerID, error) {
	id, ok := asUint32(v)
	if !ok {
		return 0, ErrMalformed
	}
	return PlayerID(id), nil
}

func DecodeInt(v any) (int, error) {
	n, ok := asInt(v)
	if !ok {
		return 0, ErrMalformed
	}
	return n, nil
}

func DecodeString(v any) (string, error) {
	s, ok := asString(v)
	if !ok {
		return "", ErrMalformed
	}
	return s, nil
}

func DecodePassword(v any) (*string, error) {
	p, ok := asPassword(v)
	if !ok {
		return nil, ErrMalformed
	}
	return p, nil
}

func DecodeErrorCode(v any) (ErrorCode, error) {
	n, ok := asUint32(v)
	if !ok || n > 255 {
		return 0, fmt.Errorf("%w: bad error code", ErrMalformed)
	}
	return ErrorCode(n), nil
}

func passwordValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func asPassword(v any) (*string, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := asString(v)
	if !ok {
		return nil, false
	}
	return &s, true
}
