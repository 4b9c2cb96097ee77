package discussion

import (
	"database/sql"
	"fmt"
	"time"
)

// Discussion is one conversation: an ordered tree of messages linked by
// parent_id. The current message is an in-memory cursor used to resume or
// continue generation; it always points at the last added or selected message.
type Discussion struct {
	ID    int64
	Title string

	store   *Store
	current *Message
}

const messageColumns = `id, discussion_id, parent_id, sender_type, sender, content,
	kind, metadata, rank, binding, model, personality, created_at, finished_generating_at`

// AddMessage appends a message and moves the cursor onto it.
func (d *Discussion) AddMessage(p AddMessageParams) (*Message, error) {
	now := time.Now().UTC()

	var metadata any
	if p.Metadata != "" {
		metadata = p.Metadata
	}

	res, err := d.store.db.Exec(`
		INSERT INTO messages (discussion_id, parent_id, sender_type, sender, content,
			kind, metadata, rank, binding, model, personality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, p.ParentID, int(p.SenderType), p.Sender, p.Content,
		int(p.Kind), metadata, p.Rank, p.BindingName, p.ModelName, p.Personality,
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:           id,
		DiscussionID: d.ID,
		ParentID:     p.ParentID,
		SenderType:   p.SenderType,
		Sender:       p.Sender,
		Content:      p.Content,
		Kind:         p.Kind,
		Metadata:     p.Metadata,
		Rank:         p.Rank,
		BindingName:  p.BindingName,
		ModelName:    p.ModelName,
		Personality:  p.Personality,
		CreatedAt:    now,
	}
	d.current = msg

	return msg, nil
}

// Messages returns every message of the discussion in creation order.
func (d *Discussion) Messages() ([]Message, error) {
	rows, err := d.store.db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE discussion_id = ?
		ORDER BY id ASC`, d.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// SelectMessage moves the cursor onto the given message.
func (d *Discussion) SelectMessage(id int64) (*Message, error) {
	row := d.store.db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE discussion_id = ? AND id = ?`, d.ID, id)

	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("select message %d: %w", id, err)
	}

	d.current = &m
	return d.current, nil
}

// Current returns the cursor message, nil when the discussion is empty.
func (d *Discussion) Current() *Message {
	return d.current
}

// UpdateContent overwrites the current message's content. Called repeatedly
// while a generation streams.
func (d *Discussion) UpdateContent(content string) error {
	if d.current == nil {
		return fmt.Errorf("no current message")
	}

	_, err := d.store.db.Exec(
		`UPDATE messages SET content = ? WHERE id = ?`,
		content, d.current.ID,
	)
	if err != nil {
		return fmt.Errorf("update message %d: %w", d.current.ID, err)
	}

	d.current.Content = content
	return nil
}

// FinishMessage persists the final content and stamps
// finished_generating_at, freezing the message.
func (d *Discussion) FinishMessage(content string) (time.Time, error) {
	if d.current == nil {
		return time.Time{}, fmt.Errorf("no current message")
	}

	now := time.Now().UTC()
	_, err := d.store.db.Exec(
		`UPDATE messages SET content = ?, finished_generating_at = ? WHERE id = ?`,
		content, now.Format(time.RFC3339), d.current.ID,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("finish message %d: %w", d.current.ID, err)
	}

	d.current.Content = content
	d.current.FinishedAt = &now
	return now, nil
}

func (d *Discussion) loadCurrent() error {
	row := d.store.db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE discussion_id = ?
		ORDER BY id DESC LIMIT 1`, d.ID)

	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		d.current = nil
		return nil
	}
	if err != nil {
		return err
	}

	d.current = &m
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var senderType, kind int
	var metadata sql.NullString
	var createdAt string
	var finishedAt sql.NullString

	err := row.Scan(&m.ID, &m.DiscussionID, &m.ParentID, &senderType, &m.Sender,
		&m.Content, &kind, &metadata, &m.Rank, &m.BindingName, &m.ModelName,
		&m.Personality, &createdAt, &finishedAt)
	if err != nil {
		return Message{}, err
	}

	m.SenderType = SenderType(senderType)
	m.Kind = MsgKind(kind)
	m.Metadata = metadata.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			m.FinishedAt = &t
		}
	}

	return m, nil
}
