// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/oklog/ulid/v2"
)

const (
	MaxConnIDLen = 64
	MaxNameLen   = 64
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
	ErrIDTooLong   = errors.New("id too long")
)

// ConnID addresses one participant transport session on the relay.
type ConnID string

// NewConnID is used when the participant does not pick its own id.
func NewConnID() ConnID {
	return ConnID(ulid.Make().String())
}

func ValidateConnID(id ConnID) error {
	if len(id) == 0 {
		return ErrNameEmpty
	}
	if len(id) > MaxConnIDLen {
		return ErrIDTooLong
	}
	return nil
}

type Participant struct {
	ID   ConnID `json:"id"`
	Name string `json:"name"`
}

func NewParticipant(id ConnID, name string) (*Participant, error) {
	if err := ValidateConnID(id); err != nil {
		return nil, err
	}
	p := &Participant{ID: id, Name: "Unknown"}
	if name != "" {
		if err := p.SetName(name); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Participant) SetName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}
