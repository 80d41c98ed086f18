package protocol

import "fmt"

// Wire protocol version expected in every login request, and the server
// build version advertised in the hello notification.
const (
	Version       = "0.1"
	ServerVersion = "0.1.0"
)

// Action identifies the kind of an envelope. The set is closed: decoding an
// envelope with a code outside this set fails structurally instead of being
// routed.
type Action uint8

const (
	ActionError Action = 0

	// Client → server commands.
	ClientLogin           Action = 1
	ClientRoomCreate      Action = 2
	ClientRoomJoin        Action = 3
	ClientRoomLeave       Action = 4
	ClientRoomStart       Action = 5
	ClientRoomCancel      Action = 6
	ClientRoomSetOwner    Action = 7
	ClientRoomSetParam    Action = 8
	ClientRoomSetPassword Action = 9
	ClientRoomLoaded      Action = 10
	ClientTickConfirm     Action = 11

	// Server → client replies, correlated by request id.
	RespondLogin           Action = 16
	RespondRoomJoined      Action = 17
	RespondRoomLeft        Action = 18
	RespondRoomStart       Action = 19
	RespondRoomCancel      Action = 20
	RespondRoomOwnerSet    Action = 21
	RespondRoomParamSet    Action = 22
	RespondRoomPasswordSet Action = 23

	// Server → client notifications, always request id 0.
	ServerHello                 Action = 32
	ServerRoomList              Action = 33
	ServerRoomJoined            Action = 34
	ServerRoomPlayerList        Action = 35
	ServerRoomPlayerJoined      Action = 36
	ServerRoomPlayerLeft        Action = 37
	ServerRoomParamSet          Action = 38
	ServerRoomSetOwner          Action = 39
	ServerRoomCountdownStarted  Action = 40
	ServerRoomCountdownUpdated  Action = 41
	ServerRoomCountdownCanceled Action = 42
	ServerRoomCountdownEnded    Action = 43
	ServerRoomLoad              Action = 44
	ServerRoomStarted           Action = 45
	ServerTickUpdate            Action = 46
)

var actionNames = map[Action]string{
	ActionError:                 "error",
	ClientLogin:                 "login",
	ClientRoomCreate:            "room.create",
	ClientRoomJoin:              "room.join",
	ClientRoomLeave:             "room.leave",
	ClientRoomStart:             "room.start",
	ClientRoomCancel:            "room.cancel",
	ClientRoomSetOwner:          "room.setOwner",
	ClientRoomSetParam:          "room.setParam",
	ClientRoomSetPassword:       "room.setPassword",
	ClientRoomLoaded:            "room.loaded",
	ClientTickConfirm:           "tick.confirm",
	RespondLogin:                "respond.login",
	RespondRoomJoined:           "respond.room.joined",
	RespondRoomLeft:             "respond.room.left",
	RespondRoomStart:            "respond.room.start",
	RespondRoomCancel:           "respond.room.cancel",
	RespondRoomOwnerSet:         "respond.room.ownerSet",
	RespondRoomParamSet:         "respond.room.paramSet",
	RespondRoomPasswordSet:      "respond.room.passwordSet",
	ServerHello:                 "server.hello",
	ServerRoomList:              "server.roomList",
	ServerRoomJoined:            "server.room.joined",
	ServerRoomPlayerList:        "server.room.playerList",
	ServerRoomPlayerJoined:      "server.room.playerJoined",
	ServerRoomPlayerLeft:        "server.room.playerLeft",
	ServerRoomParamSet:          "server.room.paramSet",
	ServerRoomSetOwner:          "server.room.setOwner",
	ServerRoomCountdownStarted:  "server.room.countdownStarted",
	ServerRoomCountdownUpdated:  "server.room.countdownUpdated",
	ServerRoomCountdownCanceled: "server.room.countdownCanceled",
	ServerRoomCountdownEnded:    "server.room.countdownEnded",
	ServerRoomLoad:              "server.room.load",
	ServerRoomStarted:           "server.room.started",
	ServerTickUpdate:            "server.tick.update",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Known reports whether a is part of the closed action set.
func (a Action) Known() bool {
	_, ok := actionNames[a]
	return ok
}

// ErrorCode is the payload of an ActionError reply.
type ErrorCode uint8

const (
	CodeInvalidParameter    ErrorCode = 1
	CodeUnknownAction       ErrorCode = 2
	CodeProtocolMismatch    ErrorCode = 3
	CodeServerFull          ErrorCode = 4
	CodeServerMaxRooms      ErrorCode = 5
	CodeNameInUse           ErrorCode = 6
	CodeRoomNotFound        ErrorCode = 7
	CodeRoomFull            ErrorCode = 8
	CodeRoomStarted         ErrorCode = 9
	CodeRoomNotReady        ErrorCode = 10
	CodeRoomNotCountingDown ErrorCode = 11
	CodeRoomNotOwner        ErrorCode = 12
	CodeRoomInvalidPassword ErrorCode = 13
	CodeRoomGameIdent       ErrorCode = 14
	CodeRoomGameVersion     ErrorCode = 15
)

var errorNames = map[ErrorCode]string{
	CodeInvalidParameter:    "invalid parameter",
	CodeUnknownAction:       "unknown action",
	CodeProtocolMismatch:    "protocol version mismatch",
	CodeServerFull:          "server full",
	CodeServerMaxRooms:      "maximum room count reached",
	CodeNameInUse:           "player name already in use",
	CodeRoomNotFound:        "room not found",
	CodeRoomFull:            "room full",
	CodeRoomStarted:         "room already started",
	CodeRoomNotReady:        "room below minimum player count",
	CodeRoomNotCountingDown: "room not counting down",
	CodeRoomNotOwner:        "not the room owner",
	CodeRoomInvalidPassword: "incorrect room password",
	CodeRoomGameIdent:       "game identifier mismatch",
	CodeRoomGameVersion:     "game version mismatch",
}

func (c ErrorCode) String() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", uint8(c))
}
