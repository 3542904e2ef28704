// Package protocol defines the texts exchanged on relay connections and the
// status document served over HTTP.
package protocol

import (
	"bytes"
	"strings"
)

// MessageType represents the type of message
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeJoin
	MessageTypeLeave
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "TEXT"
	case MessageTypeJoin:
		return "JOIN"
	case MessageTypeLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Message is one broadcast line. Content is only used by text messages,
// Transport only by join and leave announcements.
type Message struct {
	Type      MessageType
	Sender    string
	Content   []byte
	Transport string
}

// Text returns a text message from sender.
func Text(sender string, content []byte) Message {
	return Message{Type: MessageTypeText, Sender: sender, Content: content}
}

// Joined returns the announcement for a connection that joined.
func Joined(sender, transport string) Message {
	return Message{Type: MessageTypeJoin, Sender: sender, Transport: transport}
}

// Left returns the announcement for a connection that left.
func Left(sender, transport string) Message {
	return Message{Type: MessageTypeLeave, Sender: sender, Transport: transport}
}

// Bytes renders the message as "<sender>: <content>",
// "<sender> connected (<transport>)" or "<sender> disconnected (<transport>)".
func (m Message) Bytes() []byte {
	return m.AppendTo(make([]byte, 0, m.size()))
}

// AppendTo appends the rendered message to dst.
func (m Message) AppendTo(dst []byte) []byte {
	dst = append(dst, m.Sender...)
	switch m.Type {
	case MessageTypeJoin:
		dst = append(dst, " connected ("...)
		dst = append(dst, m.Transport...)
		dst = append(dst, ')')
	case MessageTypeLeave:
		dst = append(dst, " disconnected ("...)
		dst = append(dst, m.Transport...)
		dst = append(dst, ')')
	default:
		dst = append(dst, ": "...)
		dst = append(dst, m.Content...)
	}
	return dst
}

func (m Message) size() int {
	switch m.Type {
	case MessageTypeJoin:
		return len(m.Sender) + len(" connected ()") + len(m.Transport)
	case MessageTypeLeave:
		return len(m.Sender) + len(" disconnected ()") + len(m.Transport)
	default:
		return len(m.Sender) + 2 + len(m.Content)
	}
}

// String implements fmt.Stringer.
func (m Message) String() string { return string(m.Bytes()) }

// Parse reads a rendered message back. Senders never contain spaces, which
// is what separates text from announcements. Anything unrecognized is
// returned as text without a sender.
func Parse(data []byte) Message {
	space := bytes.IndexByte(data, ' ')
	if space > 0 && data[space-1] == ':' {
		return Text(string(data[:space-1]), data[space+1:])
	}
	if space > 0 && data[len(data)-1] == ')' {
		sender, rest := string(data[:space]), string(data[space+1:len(data)-1])
		if t, ok := strings.CutPrefix(rest, "connected ("); ok {
			return Joined(sender, t)
		}
		if t, ok := strings.CutPrefix(rest, "disconnected ("); ok {
			return Left(sender, t)
		}
	}
	return Message{Type: MessageTypeText, Content: data}
}
