package dispatch

import "encoding/json"

// Command is one request the executor understands. The fixed command structs
// below cover every known channel operation; RawCommand is the forward
// compatibility escape hatch for commands this library does not model yet.
type Command interface {
	CommandName() string
}

// Connect asks the executor to bring the channel's connection up, pairing via
// QR code if no stored credentials exist.
type Connect struct{}

func (Connect) CommandName() string { return "connect" }

// Disconnect asks the executor to tear the live connection down while keeping
// stored credentials.
type Disconnect struct{}

func (Disconnect) CommandName() string { return "disconnect" }

// Reconnect cycles the connection using stored credentials.
type Reconnect struct{}

func (Reconnect) CommandName() string { return "reconnect" }

// RequestPairingCode asks for a phone-number pairing code instead of a QR scan.
type RequestPairingCode struct {
	PhoneNumber string `json:"phone_number"`
}

func (RequestPairingCode) CommandName() string { return "request_pairing_code" }

// SendMessage sends a text message, optionally quoting another message.
type SendMessage struct {
	To              string `json:"to"`
	Text            string `json:"text"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`
}

func (SendMessage) CommandName() string { return "send_message" }

// SendPoll sends a poll message.
type SendPoll struct {
	To            string   `json:"to"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	MaxSelections int      `json:"max_selections,omitempty"`
}

func (SendPoll) CommandName() string { return "send_poll" }

// EditMessage replaces the text of a previously sent message.
type EditMessage struct {
	To        string `json:"to"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

func (EditMessage) CommandName() string { return "edit_message" }

// DeleteMessage revokes a previously sent message.
type DeleteMessage struct {
	To          string `json:"to"`
	MessageID   string `json:"message_id"`
	ForEveryone bool   `json:"for_everyone,omitempty"`
}

func (DeleteMessage) CommandName() string { return "delete_message" }

// React attaches an emoji reaction to a message. An empty emoji removes the
// reaction.
type React struct {
	To        string `json:"to"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func (React) CommandName() string { return "react" }

// GetProfilePicture fetches a contact's profile picture URL.
type GetProfilePicture struct {
	ContactID string `json:"contact_id"`
	Preview   bool   `json:"preview,omitempty"`
}

func (GetProfilePicture) CommandName() string { return "get_profile_picture" }

// RawCommand dispatches an arbitrary command with an opaque JSON payload.
type RawCommand struct {
	Name    string
	Payload json.RawMessage
}

func (c RawCommand) CommandName() string { return c.Name }

// MarshalJSON publishes the opaque payload as-is.
func (c RawCommand) MarshalJSON() ([]byte, error) {
	if len(c.Payload) == 0 {
		return []byte("{}"), nil
	}
	return c.Payload, nil
}

// SendResult is the executor's answer to send, edit, and poll commands.
type SendResult struct {
	MessageID string `json:"message_id"`
}

// PairingCode is the executor's answer to a pairing-code request.
type PairingCode struct {
	Code string `json:"code"`
}

// ProfilePicture is the executor's answer to a profile-picture request.
type ProfilePicture struct {
	URL string `json:"url"`
}
