package service

// Realtime event names shared by services and the websocket gateway.
const (
	EventMessageNew      = "message:new"
	EventMessageEdited   = "message:edited"
	EventMessageReacted  = "message:reacted"
	EventMessageDeleted  = "message:deleted"
	EventMessageError    = "message:error"
	EventMessagesRead    = "messages:read"
	EventNotificationNew = "notification:new"
	EventChatUpdated     = "chat:updated"
	EventChatDeleted     = "chat:deleted"
	EventChatRestored    = "chat:restored"
	EventChatLeft        = "chat:left"
	EventUserTyping      = "user:typing"
	EventUserStopTyping  = "user:stopped-typing"
)

// Broadcaster multicasts events to live connections. Implementations are best-effort.
type Broadcaster interface {
	ToChat(chatID, event string, payload interface{})
	ToUser(userID, event string, payload interface{})
	EvictFromChat(chatID, userID string)
}

// PresenceReader reports which users currently hold a live connection.
type PresenceReader interface {
	Online(userIDs []string) []string
}

type nopBroadcaster struct{}

func (nopBroadcaster) ToChat(string, string, interface{}) {}
func (nopBroadcaster) ToUser(string, string, interface{}) {}
func (nopBroadcaster) EvictFromChat(string, string)       {}

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}
