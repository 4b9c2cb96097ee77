package chat

import "github.com/bowerhall/parley/internal/discussion"

// Event names pushed to clients. The gateway decides how they go on the wire;
// the engine only speaks in these.
const (
	EventDiscussionCreated   = "discussion.created"
	EventDiscussionLoaded    = "discussion.loaded"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventMessageClosed       = "message.closed"
	EventNotification        = "notification"
	EventGenerationCancelled = "generation.cancelled"
)

const (
	NotifySuccess = "success"
	NotifyWarning = "warning"
	NotifyError   = "error"
)

type Event struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// Emitter delivers an event to one connection. Implementations must be safe
// for concurrent use; generation workers emit from their own goroutines.
type Emitter interface {
	Emit(connectionID string, ev Event)
}

type DiscussionCreatedPayload struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type DiscussionLoadedPayload struct {
	ID       int64                `json:"id"`
	Title    string               `json:"title"`
	Messages []discussion.Message `json:"messages"`
}

type MessageCreatedPayload struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	Kind     int    `json:"type"`
}

type MessageUpdatedPayload struct {
	ID         int64          `json:"id"`
	Content    string         `json:"content"`
	Kind       int            `json:"type"`
	FinishedAt string         `json:"finished_generating_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type MessageClosedPayload struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_generating_at"`
}

type NotificationPayload struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}
