package chat

import (
	"time"

	"github.com/bowerhall/parley/internal/discussion"
	"github.com/bowerhall/parley/internal/logger"
)

// generation is the per-run state the dispatcher mutates. Only the worker
// goroutine touches it, so its own fields need no locking; shared session
// state goes through the Session's guarded accessors.
type generation struct {
	eng       *Engine
	session   *Session
	disc      *discussion.Discussion
	messageID int64
	opened    bool
}

// onFragment is the callback the binding invokes for every produced fragment.
// The returned bool tells the binding whether to keep generating; false must
// stop it promptly. This is the only path by which cancellation and
// antiprompt truncation reach into the generation loop.
func (g *generation) onFragment(fragment string, kind discussion.MsgKind, metadata map[string]any) bool {
	switch kind {
	case discussion.KindStep, discussion.KindStepStart, discussion.KindStepEnd:
		logger.Debug("generation step", "kind", int(kind), "detail", fragment)
		return true

	case discussion.KindException:
		g.eng.notify(g.session.ConnectionID, fragment, NotifyError)
		return true

	case discussion.KindWarning:
		g.eng.notify(g.session.ConnectionID, fragment, NotifyWarning)
		return true

	case discussion.KindInfo:
		g.eng.notify(g.session.ConnectionID, fragment, NotifySuccess)
		return true

	case discussion.KindNewMessage:
		return g.onNewMessage()

	case discussion.KindFinishedMessage:
		return false

	case discussion.KindChunk:
		return g.onChunk(fragment)

	case discussion.KindFull, discussion.KindFullInvisibleToModel, discussion.KindFullInvisibleToUser:
		g.session.replaceBuffer(fragment)
		g.persist(fragment)
		g.emitUpdate(fragment, kind, metadata)
		return true

	default:
		// opaque application-defined kind, forwarded verbatim
		g.emitUpdate(fragment, kind, metadata)
		return true
	}
}

func (g *generation) onChunk(fragment string) bool {
	buffer, _ := g.session.appendBuffer(fragment)

	if marker, idx := g.eng.person.DetectAntiprompt(buffer); idx != -1 {
		truncated := g.session.truncateBuffer(idx)
		logger.Debug("antiprompt hit, stopping generation", "marker", marker)
		g.persist(truncated)
		g.emitUpdate(truncated, discussion.KindFull, nil)
		return false
	}

	g.persist(buffer)
	g.emitUpdate(fragment, discussion.KindChunk, nil)

	if g.session.ackCancel() {
		g.eng.emit(g.session.ConnectionID, Event{Name: EventGenerationCancelled, Data: struct{}{}})
		return false
	}
	return true
}

// onNewMessage opens a fresh assistant message mid-run. Multi-message
// adapters use this to split their output; the previous message is finalized
// with whatever the buffer held.
func (g *generation) onNewMessage() bool {
	if g.opened {
		if _, err := g.disc.FinishMessage(g.session.bufferSnapshot()); err != nil {
			logger.Error("finalize message on split", "error", err)
		}
	}
	g.session.resetCounter()
	g.session.setBuffer("")

	msg, err := g.disc.AddMessage(discussion.AddMessageParams{
		Kind:        discussion.KindFull,
		SenderType:  discussion.SenderAssistant,
		Sender:      g.eng.person.Name,
		ParentID:    g.messageID,
		BindingName: g.eng.binding.Name(),
		ModelName:   g.eng.binding.ModelName(),
		Personality: g.eng.person.Name,
	})
	if err != nil {
		g.eng.notify(g.session.ConnectionID, "failed to open message: "+err.Error(), NotifyError)
		return false
	}

	g.messageID = msg.ID
	g.opened = true
	g.emitCreated(msg)
	return true
}

// persist writes the in-flight buffer through to the store so the current
// message's content tracks what the client sees.
func (g *generation) persist(content string) {
	if err := g.disc.UpdateContent(content); err != nil {
		logger.Error("failed to persist streamed content", "error", err)
	}
}

func (g *generation) emitUpdate(content string, kind discussion.MsgKind, metadata map[string]any) {
	g.eng.emit(g.session.ConnectionID, Event{Name: EventMessageUpdated, Data: MessageUpdatedPayload{
		ID:       g.messageID,
		Content:  content,
		Kind:     int(kind),
		Metadata: metadata,
	}})
}

func (g *generation) emitCreated(msg *discussion.Message) {
	g.eng.emit(g.session.ConnectionID, Event{Name: EventMessageCreated, Data: MessageCreatedPayload{
		ID:       msg.ID,
		ParentID: msg.ParentID,
		Sender:   msg.Sender,
		Content:  msg.Content,
		Kind:     int(msg.Kind),
	}})
}

func (g *generation) emitClosed(msg *discussion.Message, content string, finishedAt time.Time) {
	g.eng.emit(g.session.ConnectionID, Event{Name: EventMessageClosed, Data: MessageClosedPayload{
		ID:         msg.ID,
		Content:    content,
		CreatedAt:  msg.CreatedAt.Format(time.RFC3339),
		FinishedAt: finishedAt.Format(time.RFC3339),
	}})
}
