package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bowerhall/parley/internal/binding"
	"github.com/bowerhall/parley/internal/config"
	"github.com/bowerhall/parley/internal/discussion"
	"github.com/bowerhall/parley/internal/logger"
	"github.com/bowerhall/parley/internal/personality"
)

// placeholder shown in a fresh assistant message until fragments arrive.
const placeholderContent = "✍ please stand by ..."

// Engine orchestrates sessions and generation runs. One worker goroutine per
// session at most; all sessions share the model through modelGate, so
// concurrent clients mean concurrent bookkeeping and streaming, not
// concurrent inference.
type Engine struct {
	cfg       *config.Config
	registry  *Registry
	store     *discussion.Store
	binding   binding.Binding
	person    *personality.Personality
	assembler *Assembler
	emitter   Emitter
	grace     time.Duration

	modelGate sync.Mutex
}

func NewEngine(cfg *config.Config, store *discussion.Store, b binding.Binding, p *personality.Personality, emitter Emitter) *Engine {
	return &Engine{
		cfg:       cfg,
		registry:  NewRegistry(),
		store:     store,
		binding:   b,
		person:    p,
		assembler: NewAssembler(b, cfg.User.PromptSeparator),
		emitter:   emitter,
		grace:     time.Duration(cfg.CancelGraceSecs) * time.Second,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Connect registers a session for a new client connection.
func (e *Engine) Connect(connectionID string) *Session {
	logger.Debug("client connected", "connection", connectionID)
	return e.registry.Create(connectionID)
}

// Disconnect tears the session down. A session with a live worker is only
// flagged; the worker's finalize pass removes it.
func (e *Engine) Disconnect(connectionID string) {
	s, ok := e.registry.Get(connectionID)
	if !ok {
		return
	}
	if s.Processing() {
		s.markForDeletion()
		logger.Debug("disconnect deferred, generation in flight", "connection", connectionID)
		return
	}
	e.registry.Remove(connectionID)
	logger.Debug("client disconnected", "connection", connectionID)
}

// NewDiscussion creates a discussion, seeds the personality's welcome
// message, and makes it the session's current discussion.
func (e *Engine) NewDiscussion(connectionID, title string) error {
	s, ok := e.registry.Get(connectionID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connectionID)
	}

	d, err := e.createDiscussion(connectionID, title)
	if err != nil {
		e.notify(connectionID, "failed to create discussion: "+err.Error(), NotifyError)
		return err
	}
	s.SetDiscussion(d)
	return nil
}

// LoadDiscussion switches the session to the given discussion, or to the most
// recent one when id <= 0, and replies with the full message list.
func (e *Engine) LoadDiscussion(connectionID string, id int64) error {
	s, ok := e.registry.Get(connectionID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connectionID)
	}

	var (
		d   *discussion.Discussion
		err error
	)
	if id <= 0 {
		d, err = e.store.LoadLastDiscussion()
	} else {
		d, err = e.store.LoadDiscussion(id)
	}
	if err != nil {
		e.notify(connectionID, "failed to load discussion: "+err.Error(), NotifyError)
		return err
	}

	msgs, err := d.Messages()
	if err != nil {
		e.notify(connectionID, "failed to load messages: "+err.Error(), NotifyError)
		return err
	}

	s.SetDiscussion(d)
	e.emit(connectionID, Event{Name: EventDiscussionLoaded, Data: DiscussionLoadedPayload{
		ID:       d.ID,
		Title:    d.Title,
		Messages: msgs,
	}})
	return nil
}

// GenerateMessage appends prompt as a user message and generates a reply.
// With no current discussion one is created or resumed first; the request is
// never silently dropped.
func (e *Engine) GenerateMessage(connectionID, prompt string) error {
	s, ok := e.registry.Get(connectionID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connectionID)
	}
	if err := e.validate(connectionID, s); err != nil {
		return err
	}

	d, err := e.ensureDiscussion(connectionID, s)
	if err != nil {
		e.notify(connectionID, "no discussion available: "+err.Error(), NotifyError)
		return err
	}

	parentID := int64(-1)
	if cur := d.Current(); cur != nil {
		parentID = cur.ID
	}

	userMsg, err := d.AddMessage(discussion.AddMessageParams{
		Kind:       discussion.KindFull,
		SenderType: discussion.SenderUser,
		Sender:     e.userSender(),
		Content:    prompt,
		ParentID:   parentID,
	})
	if err != nil {
		e.notify(connectionID, "failed to store message: "+err.Error(), NotifyError)
		return err
	}
	e.emit(connectionID, Event{Name: EventMessageCreated, Data: MessageCreatedPayload{
		ID:       userMsg.ID,
		ParentID: userMsg.ParentID,
		Sender:   userMsg.Sender,
		Content:  userMsg.Content,
		Kind:     int(userMsg.Kind),
	}})

	return e.startGeneration(s, d, userMsg.ID, false)
}

// GenerateMessageFrom regenerates the reply to an existing message.
func (e *Engine) GenerateMessageFrom(connectionID string, messageID int64) error {
	s, d, err := e.sessionWithDiscussion(connectionID)
	if err != nil {
		return err
	}
	if err := e.validate(connectionID, s); err != nil {
		return err
	}
	if _, err := d.SelectMessage(messageID); err != nil {
		e.notify(connectionID, "unknown message", NotifyError)
		return err
	}
	return e.startGeneration(s, d, messageID, false)
}

// ContinueGenerateFrom extends an existing assistant message in place.
func (e *Engine) ContinueGenerateFrom(connectionID string, messageID int64) error {
	s, d, err := e.sessionWithDiscussion(connectionID)
	if err != nil {
		return err
	}
	if err := e.validate(connectionID, s); err != nil {
		return err
	}
	return e.startGeneration(s, d, messageID, true)
}

// CancelGeneration requests cooperative cancellation, then forces an
// interrupt through the worker's context if no fragment acknowledges the
// request within the grace window.
func (e *Engine) CancelGeneration(connectionID string) {
	s, ok := e.registry.Get(connectionID)
	if !ok {
		return
	}
	done, cancel, live := s.requestCancel()
	if !live {
		e.notify(connectionID, "no generation in progress", NotifyWarning)
		return
	}

	go func() {
		select {
		case <-done:
		case <-time.After(e.grace):
			logger.Warn("generation did not stop cooperatively, interrupting", "connection", connectionID)
			cancel()
		}
	}()
}

// userSender picks the label user messages are stored and rendered under:
// the configured user name when the use-user-name flag is on, otherwise the
// personality's user message prefix stripped of its separator and colon.
func (e *Engine) userSender() string {
	label := e.person.UserMessagePrefix
	if e.cfg.User.UseUserName {
		label = e.cfg.User.Name
	}
	label = strings.ReplaceAll(label, e.cfg.User.PromptSeparator, "")
	return strings.ReplaceAll(label, ":", "")
}

func (e *Engine) validate(connectionID string, s *Session) error {
	if e.binding == nil {
		e.notify(connectionID, "no model loaded", NotifyError)
		return errors.New("no model loaded")
	}
	if s.Processing() {
		e.notify(connectionID, "a generation is already running for this session", NotifyWarning)
		return errors.New("generation already running")
	}
	return nil
}

func (e *Engine) sessionWithDiscussion(connectionID string) (*Session, *discussion.Discussion, error) {
	s, ok := e.registry.Get(connectionID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown connection %s", connectionID)
	}
	d := s.Discussion()
	if d == nil {
		e.notify(connectionID, "no discussion selected", NotifyError)
		return nil, nil, errors.New("no discussion selected")
	}
	return s, d, nil
}

// ensureDiscussion resolves the session's discussion, resuming the last one
// when it is still empty and starting a fresh one otherwise.
func (e *Engine) ensureDiscussion(connectionID string, s *Session) (*discussion.Discussion, error) {
	if d := s.Discussion(); d != nil {
		return d, nil
	}

	hasMessages, err := e.store.LastDiscussionHasMessages()
	if err != nil {
		return nil, err
	}

	var d *discussion.Discussion
	if hasMessages {
		d, err = e.createDiscussion(connectionID, "")
	} else {
		d, err = e.store.LoadLastDiscussion()
	}
	if err != nil {
		return nil, err
	}
	s.SetDiscussion(d)
	return d, nil
}

func (e *Engine) createDiscussion(connectionID, title string) (*discussion.Discussion, error) {
	d, err := e.store.CreateDiscussion(title)
	if err != nil {
		return nil, err
	}

	if e.person.WelcomeMessage != "" {
		kind := discussion.KindFull
		if !e.person.IncludeWelcome {
			kind = discussion.KindFullInvisibleToModel
		}
		if _, err := d.AddMessage(discussion.AddMessageParams{
			Kind:        kind,
			SenderType:  discussion.SenderAssistant,
			Sender:      e.person.Name,
			Content:     e.person.WelcomeMessage,
			ParentID:    -1,
			Personality: e.person.Name,
		}); err != nil {
			return nil, fmt.Errorf("seed welcome message: %w", err)
		}
	}

	e.emit(connectionID, Event{Name: EventDiscussionCreated, Data: DiscussionCreatedPayload{
		ID:    d.ID,
		Title: d.Title,
	}})
	return d, nil
}

func (e *Engine) startGeneration(s *Session, d *discussion.Discussion, targetID int64, isContinue bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	if !s.beginWork(cancel) {
		cancel()
		e.notify(s.ConnectionID, "a generation is already running for this session", NotifyWarning)
		return errors.New("generation already running")
	}

	go e.runWorker(ctx, s, d, targetID, isContinue)
	return nil
}

// runWorker drives one generation end to end. Whatever happens inside, the
// deferred finalize closes out the message and frees the session.
func (e *Engine) runWorker(ctx context.Context, s *Session, d *discussion.Discussion, targetID int64, isContinue bool) {
	g := &generation{eng: e, session: s, disc: d}

	defer e.finalize(s, d, g)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("generation worker panic", "connection", s.ConnectionID, "panic", r)
			e.notify(s.ConnectionID, fmt.Sprintf("generation failed: %v", r), NotifyError)
		}
	}()

	if isContinue {
		msg, err := d.SelectMessage(targetID)
		if err != nil {
			e.notify(s.ConnectionID, "unknown message", NotifyError)
			return
		}
		s.setBuffer(msg.Content)
		g.messageID = msg.ID
		g.opened = true
	} else {
		msg, err := d.AddMessage(discussion.AddMessageParams{
			Kind:        discussion.KindFull,
			SenderType:  discussion.SenderAssistant,
			Sender:      e.person.Name,
			Content:     placeholderContent,
			ParentID:    targetID,
			BindingName: e.binding.Name(),
			ModelName:   e.binding.ModelName(),
			Personality: e.person.Name,
		})
		if err != nil {
			e.notify(s.ConnectionID, "failed to open message: "+err.Error(), NotifyError)
			return
		}
		g.messageID = msg.ID
		g.opened = true
		g.emitCreated(msg)
	}

	msgs, err := d.Messages()
	if err != nil {
		e.notify(s.ConnectionID, "failed to read discussion: "+err.Error(), NotifyError)
		return
	}

	prompt, promptTokens, err := e.assembler.Assemble(ctx, msgs, e.person.Conditioning, e.person.AIMessagePrefix, targetID, isContinue, e.cfg.Binding.CtxSize)
	if err != nil {
		e.notify(s.ConnectionID, "prompt assembly failed: "+err.Error(), NotifyError)
		return
	}

	maxNew := e.cfg.Binding.CtxSize - promptTokens - 1
	if maxNew <= 0 {
		e.notify(s.ConnectionID, "model not ready: the prompt fills the context window", NotifyError)
		return
	}

	e.modelGate.Lock()
	_, err = e.binding.Generate(ctx, prompt, e.generationParams(maxNew), g.onFragment)
	e.modelGate.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("generation failed", "connection", s.ConnectionID, "error", err)
		e.notify(s.ConnectionID, "generation failed: "+err.Error(), NotifyError)
	}
}

// finalize is the single exit point of a run: persist the buffer, close the
// message, release the session, and honor a deferred disconnect. It runs on
// every path, including cancellation, adapter failure, and panic.
func (e *Engine) finalize(s *Session, d *discussion.Discussion, g *generation) {
	if g.opened {
		content := s.bufferSnapshot()
		finishedAt, err := d.FinishMessage(content)
		if err != nil {
			logger.Error("failed to persist final message", "connection", s.ConnectionID, "error", err)
			e.notify(s.ConnectionID, "failed to persist message: "+err.Error(), NotifyError)
		} else if cur := d.Current(); cur != nil {
			g.emitClosed(cur, content, finishedAt)
		}
	}

	// forced-termination path: the worker never saw another fragment, so the
	// dispatcher could not acknowledge the cancel request
	if s.ackCancel() {
		e.emit(s.ConnectionID, Event{Name: EventGenerationCancelled, Data: struct{}{}})
	}

	if pendingDeletion := s.endWork(); pendingDeletion {
		e.registry.Remove(s.ConnectionID)
		logger.Debug("session removed after deferred disconnect", "connection", s.ConnectionID)
	}
}

func (e *Engine) generationParams(maxNew int) binding.Params {
	p := binding.Params{
		Temperature:   e.cfg.Generation.Temperature,
		TopK:          e.cfg.Generation.TopK,
		TopP:          e.cfg.Generation.TopP,
		RepeatPenalty: e.cfg.Generation.RepeatPenalty,
		RepeatLastN:   e.cfg.Generation.RepeatLastN,
		Seed:          e.cfg.Generation.Seed,
		Threads:       e.cfg.Generation.Threads,
		MaxNewTokens:  maxNew,
	}
	if e.cfg.Generation.Override {
		return p
	}
	if e.person.ModelTemperature != nil {
		p.Temperature = *e.person.ModelTemperature
	}
	if e.person.ModelTopK != nil {
		p.TopK = *e.person.ModelTopK
	}
	if e.person.ModelTopP != nil {
		p.TopP = *e.person.ModelTopP
	}
	if e.person.ModelRepeatPenalty != nil {
		p.RepeatPenalty = *e.person.ModelRepeatPenalty
	}
	if e.person.ModelRepeatLastN != nil {
		p.RepeatLastN = *e.person.ModelRepeatLastN
	}
	if e.person.ModelMaxNewTokens != nil && *e.person.ModelMaxNewTokens < maxNew {
		p.MaxNewTokens = *e.person.ModelMaxNewTokens
	}
	return p
}

func (e *Engine) notify(connectionID, content, status string) {
	e.emit(connectionID, Event{Name: EventNotification, Data: NotificationPayload{
		Content: content,
		Status:  status,
	}})
}

func (e *Engine) emit(connectionID string, ev Event) {
	if e.emitter != nil {
		e.emitter.Emit(connectionID, ev)
	}
}
