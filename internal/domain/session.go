package domain

import "github.com/dchest/uniuri"

type SessionID string

type Mode string

const (
	ModeFile Mode = "file"
	ModeLive Mode = "live"
)

// ParseMode falls back to file mode for anything unrecognised.
func ParseMode(s string) Mode {
	if Mode(s) == ModeLive {
		return ModeLive
	}
	return ModeFile
}

const sessionIDLen = 6

var sessionIDChars = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// NewSessionID returns a short opaque id such as "k3x9qa".
func NewSessionID() SessionID {
	return SessionID(uniuri.NewLenChars(sessionIDLen, sessionIDChars))
}

type Session struct {
	ID     SessionID
	Name   string
	HostID ConnID
	Mode   Mode
}
