package server

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/lockstep-dev/lockstep/internal/protocol"
)

// Config carries every tunable bound checked during validation. Identity and
// seed generation are injectable so tests can run deterministically.
type Config struct {
	// MaxConnectionIdleTime is how long a connection may sit without a valid
	// login before the server hard-closes it.
	MaxConnectionIdleTime time.Duration

	MaxPlayers int
	MaxRooms   int

	MinRoomPlayers int
	MaxRoomPlayers int

	MinTicksPerSecond int
	MaxTicksPerSecond int

	MinCountdown int
	MaxCountdown int

	// MaxPlayerEventsPerTick caps the events accepted from one player per
	// tick confirmation; overflow is dropped silently.
	MaxPlayerEventsPerTick int

	// NextPlayerID produces process-unique player ids. The default is a
	// counter starting at a randomly seeded offset.
	NextPlayerID func() protocol.PlayerID

	// Seed produces the shared random seed broadcast when a room starts.
	Seed func() int
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionIdleTime:  5 * time.Second,
		MaxPlayers:             256,
		MaxRooms:               64,
		MinRoomPlayers:         1,
		MaxRoomPlayers:         8,
		MinTicksPerSecond:      1,
		MaxTicksPerSecond:      100,
		MinCountdown:           0,
		MaxCountdown:           10,
		MaxPlayerEventsPerTick: 8,
		NextPlayerID:           RandomSeededIDs(),
		Seed:                   func() int { return mrand.IntN(65537) },
	}
}

// RandomSeededIDs returns a player id generator counting up from a random
// 16-bit offset, so ids from successive server runs rarely collide.
func RandomSeededIDs() func() protocol.PlayerID {
	var buf [2]byte
	_, _ = rand.Read(buf[:])
	next := protocol.PlayerID(binary.BigEndian.Uint16(buf[:]))
	return func() protocol.PlayerID {
		next++
		return next
	}
}

// FromEnv overlays LOCKSTEP_* environment variables onto the defaults.
// Unset or unparsable variables keep their default.
func FromEnv() Config {
	cfg := DefaultConfig()
	if d, ok := envDuration("LOCKSTEP_MAX_IDLE"); ok {
		cfg.MaxConnectionIdleTime = d
	}
	envInt("LOCKSTEP_MAX_PLAYERS", &cfg.MaxPlayers)
	envInt("LOCKSTEP_MAX_ROOMS", &cfg.MaxRooms)
	envInt("LOCKSTEP_MIN_ROOM_PLAYERS", &cfg.MinRoomPlayers)
	envInt("LOCKSTEP_MAX_ROOM_PLAYERS", &cfg.MaxRoomPlayers)
	envInt("LOCKSTEP_MIN_TICK_RATE", &cfg.MinTicksPerSecond)
	envInt("LOCKSTEP_MAX_TICK_RATE", &cfg.MaxTicksPerSecond)
	envInt("LOCKSTEP_MIN_COUNTDOWN", &cfg.MinCountdown)
	envInt("LOCKSTEP_MAX_COUNTDOWN", &cfg.MaxCountdown)
	envInt("LOCKSTEP_MAX_EVENTS_PER_TICK", &cfg.MaxPlayerEventsPerTick)
	return cfg
}

func envInt(name string, dst *int) {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string) (time.Duration, bool) {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d, true
		}
	}
	return 0, false
}
