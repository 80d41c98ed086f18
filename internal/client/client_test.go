package client

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lockstep-dev/lockstep/internal/protocol"
	"github.com/lockstep-dev/lockstep/internal/server"
	"github.com/lockstep-dev/lockstep/internal/transport"
)

const testSeed = 4242

func startServer(t *testing.T) *transport.Loopback {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.MaxConnectionIdleTime = time.Minute
	next := uint32(0)
	cfg.NextPlayerID = func() protocol.PlayerID {
		next++
		return protocol.PlayerID(next)
	}
	cfg.Seed = func() int { return testSeed }

	s := server.New(cfg, zap.NewNop(), protocol.JSONCodec{})
	lb := transport.NewLoopback()
	s.Attach(lb)
	t.Cleanup(s.Close)
	return lb
}

func await(t *testing.T, f *Future) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NoError(t, err)
	return v
}

func connect(t *testing.T, lb *transport.Loopback) *Client {
	t.Helper()
	c := New(zap.NewNop(), protocol.JSONCodec{})
	t.Cleanup(c.Close)
	conn, err := lb.Dial(context.Background(), "")
	require.NoError(t, err)
	hello := await(t, c.Connect(conn)).(protocol.Hello)
	require.Equal(t, protocol.Version, hello.Protocol)
	return c
}

func login(t *testing.T, lb *transport.Loopback, name string) *Client {
	t.Helper()
	c := connect(t, lb)
	self := await(t, c.Login("tanks", "1.0", name)).(*Player)
	require.Equal(t, name, self.Name)
	return c
}

func TestLoginAndCreateRoom(t *testing.T) {
	lb := startServer(t)
	c := login(t, lb, "alice")

	room := await(t, c.CreateRoom("arena", 1, 8, 20, nil)).(*Room)
	require.Regexp(t, regexp.MustCompile(`^\d{2}-\d{4}-\d{4}-\d{4}$`), room.ID)
	require.Equal(t, "arena", room.Name)
	require.Equal(t, 20, room.TickRate)

	c.do(func() {
		require.Equal(t, 1, room.Players.Len())
		require.NotNil(t, room.Owner)
		require.Equal(t, c.self.ID, room.Owner.ID)
		require.Equal(t, -1, room.TickCount)
	})
}

func TestRequestRejectionFailsFuture(t *testing.T) {
	lb := startServer(t)
	c := connect(t, lb)

	_, err := c.Login("tanks", "1.0", "x").Await(context.Background())
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, protocol.CodeInvalidParameter, perr.Code)

	// The connection survives; a valid login still works.
	await(t, c.Login("tanks", "1.0", "alice"))

	_, err = c.JoinRoom("99-9999-9999-9999", nil).Await(context.Background())
	require.ErrorAs(t, err, &perr)
	require.Equal(t, protocol.CodeRoomNotFound, perr.Code)
}

func TestRoomListMirror(t *testing.T) {
	lb := startServer(t)

	watcher := New(zap.NewNop(), protocol.JSONCodec{})
	t.Cleanup(watcher.Close)
	lists := make(chan int, 8)
	watcher.On("room.list", func(args ...any) {
		lists <- args[0].(*InstanceList[string, *Room]).Len()
	})
	conn, err := lb.Dial(context.Background(), "")
	require.NoError(t, err)
	await(t, watcher.Connect(conn))
	await(t, watcher.Login("tanks", "1.0", "watcher"))
	require.Equal(t, 0, <-lists) // initial listing on login

	c := login(t, lb, "alice")
	room := await(t, c.CreateRoom("arena", 1, 8, 20, nil)).(*Room)
	require.Equal(t, 1, <-lists) // room created, still empty
	require.Equal(t, 1, <-lists) // creator joined

	watcher.do(func() {
		mirror, ok := watcher.rooms.Get(room.ID)
		require.True(t, ok)
		require.Equal(t, "arena", mirror.Name)
		require.Equal(t, 1, mirror.PlayerCount)
	})

	await(t, room.Leave())
	require.Equal(t, 0, <-lists) // emptied room destroyed
}

func TestRoomMirrorUpdateAndDestroyEvents(t *testing.T) {
	lb := startServer(t)
	watcher := login(t, lb, "watcher")

	a := login(t, lb, "alice")
	roomA := await(t, a.CreateRoom("arena", 1, 8, 20, nil)).(*Room)

	var mirror *Room
	require.Eventually(t, func() bool {
		var ok bool
		watcher.do(func() { mirror, ok = watcher.rooms.Get(roomA.ID) })
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	updates := make(chan int, 8)
	destroyed := make(chan struct{}, 1)
	watcher.do(func() {
		mirror.On("update", func(...any) { updates <- mirror.PlayerCount })
		mirror.On("destroy", func(...any) { destroyed <- struct{}{} })
	})

	b := login(t, lb, "bob")
	roomB := await(t, b.JoinRoom(roomA.ID, nil)).(*Room)

	// The join refreshes the lobby listing; the existing mirror is updated
	// in place rather than replaced. Earlier refreshes from the creator's
	// own join may still be in flight, so drain up to the expected count.
	deadline := time.After(5 * time.Second)
	for count := -1; count != 2; {
		select {
		case count = <-updates:
		case <-deadline:
			t.Fatal("timed out waiting for the mirror refresh")
		}
	}

	await(t, roomB.Leave())
	await(t, roomA.Leave())

	select {
	case <-destroyed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the mirror teardown")
	}
	watcher.do(func() { require.Equal(t, 0, watcher.rooms.Len()) })
}

func TestParameterReplayOnJoin(t *testing.T) {
	lb := startServer(t)
	a := login(t, lb, "alice")
	roomA := await(t, a.CreateRoom("arena", 1, 8, 20, nil)).(*Room)
	await(t, roomA.SetParameter("map", "canyon"))
	await(t, roomA.SetParameter("mode", "ffa"))
	await(t, roomA.SetParameter("map", "island"))

	b := login(t, lb, "bob")
	roomB := await(t, b.JoinRoom(roomA.ID, nil)).(*Room)

	b.do(func() {
		var got []protocol.Param
		roomB.Params.Each(func(k string, v any) { got = append(got, protocol.Param{Key: k, Value: v}) })
		require.Equal(t, []protocol.Param{
			{Key: "map", Value: "island"},
			{Key: "mode", Value: "ffa"},
		}, got)
		require.NotNil(t, roomB.Owner)
		require.Equal(t, a.self.ID, roomB.Owner.ID)
	})
}

func TestOwnerTransferOnLeave(t *testing.T) {
	lb := startServer(t)
	a := login(t, lb, "alice")
	roomA := await(t, a.CreateRoom("arena", 1, 8, 20, nil)).(*Room)

	b := login(t, lb, "bob")
	roomB := await(t, b.JoinRoom(roomA.ID, nil)).(*Room)

	owners := make(chan protocol.PlayerID, 4)
	b.do(func() {
		roomB.On("owner", func(args ...any) {
			owners <- args[0].(*Player).ID
		})
	})

	await(t, roomA.Leave())

	select {
	case id := <-owners:
		b.do(func() { require.Equal(t, b.self.ID, id) })
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ownership transfer")
	}
	b.do(func() {
		require.Equal(t, 1, roomB.Players.Len())
	})
}

func TestOwnerFlagTracksPlayerMirrors(t *testing.T) {
	lb := startServer(t)
	a := login(t, lb, "alice")
	roomA := await(t, a.CreateRoom("arena", 1, 8, 20, nil)).(*Room)
	b := login(t, lb, "bob")
	roomB := await(t, b.JoinRoom(roomA.ID, nil)).(*Room)

	var aID, bID protocol.PlayerID
	a.do(func() { aID = a.self.ID })
	b.do(func() { bID = b.self.ID })

	flags := make(chan bool, 4)
	b.do(func() {
		alice, ok := roomB.Players.Get(aID)
		require.True(t, ok)
		bob, ok := roomB.Players.Get(bID)
		require.True(t, ok)
		require.True(t, alice.IsOwner)
		require.False(t, bob.IsOwner)
		bob.On("owner", func(args ...any) { flags <- args[0].(bool) })
	})

	await(t, roomA.Leave())

	select {
	case isOwner := <-flags:
		require.True(t, isOwner)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the owner flag")
	}
	b.do(func() {
		bob, _ := roomB.Players.Get(bID)
		require.True(t, bob.IsOwner)
		require.Same(t, bob, roomB.Owner)
	})
}

func TestLockstepRoundTrip(t *testing.T) {
	lb := startServer(t)
	a := login(t, lb, "alice")
	roomA := await(t, a.CreateRoom("arena", 2, 8, 50, nil)).(*Room)
	b := login(t, lb, "bob")
	roomB := await(t, b.JoinRoom(roomA.ID, nil)).(*Room)

	type tickSnap struct {
		tick   int
		events map[protocol.PlayerID][]any
	}
	watch := func(c *Client, room *Room, send any) chan tickSnap {
		ticks := make(chan tickSnap, 16)
		c.do(func() {
			room.On("tick", func(args ...any) {
				snap := tickSnap{tick: args[0].(int), events: map[protocol.PlayerID][]any{}}
				for _, p := range args[1].([]*Player) {
					if len(p.Events) > 0 {
						snap.events[p.ID] = append([]any(nil), p.Events...)
					}
				}
				select {
				case ticks <- snap:
				default: // ticks past the ones under test are uninteresting
				}
				if snap.tick == 0 {
					// Queued during the callback, so it rides this
					// tick's confirmation.
					room.Send(send)
				}
			})
		})
		return ticks
	}
	ticksA := watch(a, roomA, "from-alice")
	ticksB := watch(b, roomB, "from-bob")

	started := make(chan int, 2)
	for _, pair := range []struct {
		c    *Client
		room *Room
	}{{a, roomA}, {b, roomB}} {
		pair.c.do(func() {
			pair.room.On("started", func(args ...any) { started <- args[0].(int) })
		})
	}

	await(t, roomA.Start(0))

	for i := 0; i < 2; i++ {
		select {
		case seed := <-started:
			require.Equal(t, testSeed, seed)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the running transition")
		}
	}

	next := func(ch chan tickSnap) tickSnap {
		select {
		case snap := <-ch:
			return snap
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a tick")
			return tickSnap{} // unreachable
		}
	}

	var aID, bID protocol.PlayerID
	a.do(func() { aID = a.self.ID })
	b.do(func() { bID = b.self.ID })

	for _, ch := range []chan tickSnap{ticksA, ticksB} {
		first := next(ch)
		require.Equal(t, 0, first.tick)
		require.Empty(t, first.events)

		// Tick 1 bundles what both sides queued while handling tick 0.
		second := next(ch)
		require.Equal(t, 1, second.tick)
		require.Equal(t, []any{"from-alice"}, second.events[aID])
		require.Equal(t, []any{"from-bob"}, second.events[bID])

		third := next(ch)
		require.Equal(t, 2, third.tick)
		require.Empty(t, third.events)
	}
}

func TestLoadHandlerFailureLeavesRoom(t *testing.T) {
	lb := startServer(t)
	c := login(t, lb, "alice")

	left := make(chan struct{}, 1)
	c.do(func() {
		c.On("room.left", func(...any) { left <- struct{}{} })
	})
	c.SetLoadHandler(func(*Room) error { return errors.New("missing assets") })

	room := await(t, c.CreateRoom("arena", 1, 8, 20, nil)).(*Room)
	await(t, room.Start(0))

	select {
	case <-left:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the room exit")
	}
	c.do(func() { require.Nil(t, c.room) })
}

func TestCountdownCancelEvents(t *testing.T) {
	lb := startServer(t)
	c := login(t, lb, "alice")
	room := await(t, c.CreateRoom("arena", 1, 8, 20, nil)).(*Room)

	countdown := make(chan string, 8)
	c.do(func() {
		room.On("countdown.start", func(...any) { countdown <- "start" })
		room.On("countdown.update", func(...any) { countdown <- "update" })
		room.On("countdown.cancel", func(...any) { countdown <- "cancel" })
	})

	await(t, room.Start(5))
	await(t, room.Cancel())

	require.Equal(t, "start", <-countdown)
	require.Equal(t, "update", <-countdown)
	require.Equal(t, "cancel", <-countdown)
	c.do(func() { require.Equal(t, 0, room.Countdown) })
}

func TestConnectionLossResetsClient(t *testing.T) {
	lb := startServer(t)
	c := login(t, lb, "alice")

	closed := make(chan bool, 1)
	c.do(func() {
		c.On("close", func(args ...any) { closed <- args[0].(bool) })
	})
	await(t, c.CreateRoom("arena", 1, 8, 20, nil))

	// Drop the connection from the client's own side: the mirror state is
	// torn down and later requests fail fast.
	c.do(func() { _ = c.conn.Close() })

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the close event")
	}
	c.do(func() {
		require.Nil(t, c.room)
		require.Nil(t, c.self)
		require.Equal(t, 0, c.rooms.Len())
	})

	_, err := c.CreateRoom("again", 1, 8, 20, nil).Await(context.Background())
	var cerr *ClosedError
	require.ErrorAs(t, err, &cerr)
}
