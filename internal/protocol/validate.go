package protocol

import "regexp"

// Format validation for the handful of string shapes the protocol carries.
// Bounds-dependent checks (player counts, tick rates, countdowns) take their
// limits as arguments since those live in the server configuration.

var (
	versionPattern   = regexp.MustCompile(`^\d+\.\d+$`)
	gameIdentPattern = regexp.MustCompile(`^[0-9a-zA-Z_-]{4,12}$`)
	namePattern      = regexp.MustCompile(`^[0-9a-zA-Z_-]{3,16}$`)
	roomIDPattern    = regexp.MustCompile(`^\d{2}-\d{4}-\d{4}-\d{4}$`)
	paramKeyPattern  = regexp.MustCompile(`^[0-9a-zA-Z_-]{1,16}$`)
	passwordPattern  = regexp.MustCompile(`^[0-9a-zA-Z_-]{1,16}$`)
)

func ValidVersion(v string) bool { return versionPattern.MatchString(v) }

func ValidGameIdent(ident string) bool { return gameIdentPattern.MatchString(ident) }

func ValidPlayerName(name string) bool { return namePattern.MatchString(name) }

func ValidRoomName(name string) bool { return namePattern.MatchString(name) }

func ValidRoomID(id string) bool { return roomIDPattern.MatchString(id) }

func ValidParamKey(key string) bool { return paramKeyPattern.MatchString(key) }

// ValidPassword accepts nil (no password) or a well-formed password string.
func ValidPassword(p *string) bool {
	return p == nil || passwordPattern.MatchString(*p)
}

func ValidPlayerCount(count, min, max int) bool {
	return count >= min && count <= max
}

func ValidTickRate(tps, min, max int) bool {
	return tps >= min && tps <= max
}

func ValidCountdown(seconds, min, max int) bool {
	return seconds >= min && seconds <= max
}

// ValidTickIndex bounds the wraparound tick counter.
func ValidTickIndex(tick int) bool { return tick >= 0 && tick <= 255 }
