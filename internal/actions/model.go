package actions

import (
	"errors"
	"fmt"
	"strings"
)

// Type enumerates the kinds of actions recorded in the log.
type Type string

const (
	// TypeStatus marks a change of the space's open/closed state.
	TypeStatus Type = "status"
	// TypeAnnouncement marks a lifecycle event of an announcement entity.
	TypeAnnouncement Type = "announcement"
	// TypePresence marks a server-authored snapshot of present users.
	TypePresence Type = "presence"
)

// Selector is a query-side action type filter; unlike Type it admits "all".
type Selector string

// SelectorAll matches every action type.
const SelectorAll Selector = "all"

// ParseSelector validates a path segment as an action type selector.
func ParseSelector(raw string) (Selector, error) {
	switch raw {
	case string(SelectorAll), string(TypeStatus), string(TypeAnnouncement), string(TypePresence):
		return Selector(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown action type %q", ErrBadRequest, raw)
	}
}

// Matches reports whether an action of the given type passes the selector.
func (s Selector) Matches(t Type) bool {
	return s == SelectorAll || string(s) == string(t)
}

// Status is the open/closed state of the space.
type Status string

const (
	StatusPublic Status = "public"
	StatusPrivate Status = "private"
	StatusClosed Status = "closed"
)

// ParseStatus validates a wire status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPublic, StatusPrivate, StatusClosed:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrBadRequest, raw)
	}
}

// Method enumerates announcement lifecycle operations.
type Method string

const (
	MethodNew Method = "new"
	MethodMod Method = "mod"
	MethodDel Method = "del"
)

// ParseMethod validates a wire announcement method.
func ParseMethod(raw string) (Method, error) {
	switch Method(raw) {
	case MethodNew, MethodMod, MethodDel:
		return Method(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown announcement method %q", ErrBadRequest, raw)
	}
}

// PresentUser is one entry of a presence snapshot. Since is the start of the
// user's current unbroken presence window, not the last ping.
type PresentUser struct {
	Name  string `json:"user"`
	Since int64  `json:"since"`
}

// Action is one immutable record of the append-only log. ID and Time are
// assigned by the store at append time; payload fields beyond the action's
// own type stay at their zero value and are omitted on the wire.
type Action struct {
	ID   uint64 `json:"id,omitempty"`
	Time int64  `json:"time"`
	Type Type   `json:"type"`
	Note string `json:"note,omitempty"`

	// status payload
	User   string `json:"user,omitempty"`
	Status Status `json:"status,omitempty"`

	// announcement payload (User is shared with the status payload)
	Method Method `json:"method,omitempty"`
	AID    uint64 `json:"aid,omitempty"`
	From   int64  `json:"from,omitempty"`
	To     int64  `json:"to,omitempty"`
	Public *bool  `json:"public,omitempty"`

	// presence payload
	Users []PresentUser `json:"users,omitempty"`
}

const (
	maxUserNameBytes = 15
	maxNoteBytes     = 80
)

var (
	// ErrInvalidUserName indicates an empty or oversized user name.
	ErrInvalidUserName = errors.New("actions: user name must be 1-15 bytes")
	// ErrInvalidNote indicates a note exceeding the wire limit.
	ErrInvalidNote = errors.New("actions: note must be at most 80 bytes")
)

// ValidateUserName trims and bounds-checks a client-supplied user name.
func ValidateUserName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 || len(trimmed) > maxUserNameBytes {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserName, raw)
	}
	return trimmed, nil
}

// ValidateNote bounds-checks a client-supplied note. Empty notes are fine.
func ValidateNote(raw string) (string, error) {
	if len(raw) > maxNoteBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidNote, len(raw))
	}
	return raw, nil
}

// clampNote truncates server-generated notes to the wire limit without
// splitting a UTF-8 sequence.
func clampNote(note string) string {
	if len(note) <= maxNoteBytes {
		return note
	}
	cut := maxNoteBytes
	for cut > 0 && note[cut]&0xc0 == 0x80 {
		cut--
	}
	return note[:cut]
}
