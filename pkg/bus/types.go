package bus

// Kind classifies an inbound event. The router only understands these three
// trigger kinds; channel adapters are responsible for producing them.
type Kind string

const (
	KindCommand  Kind = "command"  // "/weather London"
	KindCallback Kind = "callback" // inline button press
	KindText     Kind = "text"     // free-form text
)

// ChatType distinguishes direct conversations from group chats. Group chats
// only get replies when the bot was mentioned (the adapter strips the
// mention before publishing).
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// InboundMessage is one event from a channel adapter.
type InboundMessage struct {
	Channel  string   `json:"channel"`
	SenderID string   `json:"sender_id"`
	ChatID   string   `json:"chat_id"`
	ChatType ChatType `json:"chat_type"`
	Kind     Kind     `json:"kind"`

	// Command events
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Callback events
	CallbackToken string `json:"callback_token,omitempty"`

	// Text events (also carries the raw text for command events)
	Content string `json:"content"`

	// SenderName is a display name for greeting messages, best effort.
	SenderName string `json:"sender_name,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Button is one inline keyboard button. Pressing it produces a callback
// event carrying Token.
type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// OutboundMessage is one message for a channel adapter to deliver.
type OutboundMessage struct {
	Channel string     `json:"channel"`
	ChatID  string     `json:"chat_id"`
	Content string     `json:"content"`
	Buttons [][]Button `json:"buttons,omitempty"` // rows of buttons
}

// SystemEvent is a typed observability event: delivery failures, session
// evictions, channel lifecycle. It never reaches end users.
type SystemEvent struct {
	Type   string      `json:"type"`   // e.g. "delivery.failed", "channel.started"
	Source string      `json:"source"` // e.g. "scheduler", "telegram"
	Data   interface{} `json:"data"`
}
