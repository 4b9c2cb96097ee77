package discussion

import "time"

// MsgKind classifies both stored message content and streamed fragments. The
// numeric values are part of the client protocol and must stay stable.
type MsgKind int

const (
	KindChunk                MsgKind = 0
	KindFull                 MsgKind = 1
	KindFullInvisibleToModel MsgKind = 2
	KindFullInvisibleToUser  MsgKind = 3
	KindException            MsgKind = 4
	KindWarning              MsgKind = 5
	KindInfo                 MsgKind = 6
	KindStep                 MsgKind = 7
	KindStepStart            MsgKind = 8
	KindStepEnd              MsgKind = 9
	KindNewMessage           MsgKind = 10
	KindFinishedMessage      MsgKind = 11
)

// VisibleToModel reports whether a stored message of this kind belongs in the
// prompt. Diagnostic kinds and invisible-to-model content are excluded.
func (k MsgKind) VisibleToModel() bool {
	return k <= KindFullInvisibleToUser && k != KindFullInvisibleToModel
}

type SenderType int

const (
	SenderUser      SenderType = 0
	SenderAssistant SenderType = 1
	SenderSystem    SenderType = 2
)

type Message struct {
	ID          int64
	DiscussionID int64
	ParentID    int64 // -1 for root messages
	SenderType  SenderType
	Sender      string
	Content     string
	Kind        MsgKind
	Metadata    string // opaque JSON payload, empty if none
	Rank        int
	BindingName string
	ModelName   string
	Personality string
	CreatedAt   time.Time
	FinishedAt  *time.Time // nil until the message is finalized
}

type AddMessageParams struct {
	Kind        MsgKind
	SenderType  SenderType
	Sender      string
	Content     string
	Metadata    string
	Rank        int
	ParentID    int64
	BindingName string
	ModelName   string
	Personality string
}
