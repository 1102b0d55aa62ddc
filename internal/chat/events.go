package chat

import "encoding/json"

// Event types understood by the browser client.
const (
	EventUserList    = "user_list"
	EventChatMessage = "chat_message"
)

// SystemSender labels messages that did not come from a connection.
const SystemSender = "System"

// UserListEvent is sent once, to the newly admitted connection only.
type UserListEvent struct {
	Type      string   `json:"type"`
	Usernames []string `json:"usernames"`
}

// ChatMessageEvent is what every group member receives for a broadcast.
type ChatMessageEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	User    string `json:"user"`
}

// InboundMessage is the frame a client sends. Unknown fields are ignored and a
// missing message decodes to "".
type InboundMessage struct {
	Message string `json:"message"`
}

// Message is a broadcast request: either a UserMessage from a connection or a
// SystemMessage from the administrative path.
type Message interface {
	sender() string
	text() string
	kind() string
}

// UserMessage is text typed by a connected user.
type UserMessage struct {
	Sender string
	Text   string
}

func (m UserMessage) sender() string { return m.Sender }
func (m UserMessage) text() string   { return m.Text }
func (m UserMessage) kind() string   { return "user" }

// SystemMessage is text injected without a connection; it is delivered with
// the "System" sender label.
type SystemMessage struct {
	Text string
}

func (m SystemMessage) sender() string { return SystemSender }
func (m SystemMessage) text() string   { return m.Text }
func (m SystemMessage) kind() string   { return "system" }

func encodeChatMessage(m Message) ([]byte, error) {
	return json.Marshal(ChatMessageEvent{
		Type:    EventChatMessage,
		Message: m.text(),
		User:    m.sender(),
	})
}

func encodeUserList(usernames []string) ([]byte, error) {
	if usernames == nil {
		usernames = []string{}
	}
	return json.Marshal(UserListEvent{Type: EventUserList, Usernames: usernames})
}

// decodeInbound never fails on a well-formed JSON object; missing fields fall
// back to their zero values.
func decodeInbound(payload []byte) (InboundMessage, error) {
	var in InboundMessage
	err := json.Unmarshal(payload, &in)
	return in, err
}
