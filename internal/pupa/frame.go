package pupa

import (
	"fmt"

	"github.com/google/uuid"
)

// Tag discriminates the frame variants. Wire value is a 32-bit LE integer.
type Tag uint32

const (
	TagAuthorize Tag = iota
	TagNonAuthorized
	TagContent
	TagFlash
	TagWin
	TagShowWinners
	TagWinnerRecord
	TagShowWinnersLog
	TagWinLogRecord
)

func (t Tag) String() string {
	switch t {
	case TagAuthorize:
		return "AUTHORIZE"
	case TagNonAuthorized:
		return "NON_AUTHORIZED"
	case TagContent:
		return "CONTENT"
	case TagFlash:
		return "FLASH"
	case TagWin:
		return "WIN"
	case TagShowWinners:
		return "SHOW_WINNERS"
	case TagWinnerRecord:
		return "WINNER_RECORD"
	case TagShowWinnersLog:
		return "SHOW_WINNERS_LOG"
	case TagWinLogRecord:
		return "WIN_LOG_RECORD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

// Frame is one logical protocol unit, the atomic serialization boundary.
// It is a flat holder for the tagged union; only the fields of the active
// variant are meaningful:
//
//	Authorize      Identity
//	NonAuthorized  -
//	Content        MsgID, Body
//	Flash          MsgID
//	Win            MsgID, Body
//	ShowWinners    -
//	WinnerRecord   Identity, Online, Wins, MessagesReceived, MessagesSent
//	ShowWinnersLog -
//	WinLogRecord   Identity, Timestamp, MsgID
//
// Timestamp travels as an unsigned 128-bit integer on the wire; unix seconds
// fit comfortably in the low 64 bits this type keeps.
type Frame struct {
	Tag              Tag
	Identity         uuid.UUID
	MsgID            uuid.UUID
	Body             []byte
	Online           bool
	Wins             uint32
	MessagesReceived uint32
	MessagesSent     uint32
	Timestamp        uint64
}

// Constructors for the frames that carry payload; the field-free variants
// are spelled Frame{Tag: TagShowWinners} at call sites.

func Authorize(identity uuid.UUID) Frame {
	return Frame{Tag: TagAuthorize, Identity: identity}
}

func Content(msgID uuid.UUID, body []byte) Frame {
	return Frame{Tag: TagContent, MsgID: msgID, Body: body}
}

func Flash(msgID uuid.UUID) Frame {
	return Frame{Tag: TagFlash, MsgID: msgID}
}

func Win(msgID uuid.UUID, body []byte) Frame {
	return Frame{Tag: TagWin, MsgID: msgID, Body: body}
}

// Equal compares frames by their active variant's fields.
func (f Frame) Equal(g Frame) bool {
	if f.Tag != g.Tag {
		return false
	}
	switch f.Tag {
	case TagAuthorize:
		return f.Identity == g.Identity
	case TagContent, TagWin:
		return f.MsgID == g.MsgID && string(f.Body) == string(g.Body)
	case TagFlash:
		return f.MsgID == g.MsgID
	case TagWinnerRecord:
		return f.Identity == g.Identity && f.Online == g.Online &&
			f.Wins == g.Wins && f.MessagesReceived == g.MessagesReceived &&
			f.MessagesSent == g.MessagesSent
	case TagWinLogRecord:
		return f.Identity == g.Identity && f.Timestamp == g.Timestamp && f.MsgID == g.MsgID
	default:
		return true
	}
}

// CopyShallow clones the frame with its own body slice (handy for tests).
func (f Frame) CopyShallow() Frame {
	g := f
	if f.Body != nil {
		g.Body = append([]byte(nil), f.Body...)
	}
	return g
}
