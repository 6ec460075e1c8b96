package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/klauspost/compress/zstd"
)

const mailboxSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	participants_key TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	address TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (conversation_id, position)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	envelope_id TEXT NOT NULL UNIQUE,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender_address TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_organization TEXT NOT NULL DEFAULT '',
	outgoing INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL DEFAULT '',
	footer TEXT NOT NULL DEFAULT '',
	imprint TEXT NOT NULL DEFAULT '',
	read INTEGER NOT NULL DEFAULT 0,
	delivery INTEGER NOT NULL DEFAULT 0,
	state INTEGER NOT NULL DEFAULT 0,
	sent_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);

CREATE TABLE IF NOT EXISTS attachments (
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	filename TEXT NOT NULL,
	size INTEGER NOT NULL,
	blob_ref TEXT NOT NULL DEFAULT '',
	data BLOB,
	downloaded INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (message_id, idx)
);

CREATE TABLE IF NOT EXISTS drafts (
	conversation_id INTEGER PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
	text TEXT NOT NULL DEFAULT '',
	state INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS draft_attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	size INTEGER NOT NULL,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	name TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	footer TEXT NOT NULL DEFAULT '',
	avatar BLOB,
	master_key_pem TEXT NOT NULL DEFAULT '',
	last_full_sync INTEGER
);

INSERT OR IGNORE INTO settings (id) VALUES (1);
`

var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// SQLiteMailbox implements Mailbox using SQLite. Attachment bodies are
// stored zstd-compressed.
type SQLiteMailbox struct {
	db *sql.DB
}

var _ Mailbox = (*SQLiteMailbox)(nil)

// OpenMailbox opens the per-user store at dbPath, creating it if needed.
func OpenMailbox(dbPath string) (*SQLiteMailbox, error) {
	db, err := open(dbPath, mailboxSchema, 1)
	if err != nil {
		return nil, err
	}
	return &SQLiteMailbox{db: db}, nil
}

// Close closes the database connection.
func (m *SQLiteMailbox) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close mailbox: %w", err)
	}
	return nil
}

// ParticipantsKey returns the canonical key of a participant set: the
// sorted, lowercased addresses.
func ParticipantsKey(participants []domain.Participant) string {
	addrs := make([]string, 0, len(participants))
	for _, p := range participants {
		addrs = append(addrs, normalizeAddress(p.Address))
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

const conversationColumns = `
	SELECT c.id,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.read = 0),
		COALESCE((SELECT MAX(m.sent_at) FROM messages m WHERE m.conversation_id = c.id), c.created_at)
	FROM conversations c`

// Conversations lists all conversations, most recent first.
func (m *SQLiteMailbox) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := m.db.QueryContext(ctx, conversationColumns+` ORDER BY 3 DESC, c.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			closeRows(rows, "conversations")
			return nil, err
		}
		convs = append(convs, conv)
	}
	err = rows.Err()
	closeRows(rows, "conversations")
	if err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	participants, err := m.participants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].Participants = participants[convs[i].ID]
	}
	return convs, nil
}

// Conversation returns one conversation or ErrNotFound.
func (m *SQLiteMailbox) Conversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	row := m.db.QueryRowContext(ctx, conversationColumns+` WHERE c.id = ?`, int64(id))
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	participants, err := m.participants(ctx)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.Participants = participants[conv.ID]
	return conv, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (domain.Conversation, error) {
	var conv domain.Conversation
	var id, latest int64
	if err := s.Scan(&id, &conv.UnreadCount, &latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conv, err
		}
		return conv, fmt.Errorf("scan conversation row: %w", err)
	}
	conv.ID = domain.ConversationID(id)
	conv.LatestMessageAt = time.Unix(latest, 0)
	return conv, nil
}

func (m *SQLiteMailbox) participants(ctx context.Context) (map[domain.ConversationID][]domain.Participant, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT conversation_id, address, name, organization FROM participants ORDER BY conversation_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer closeRows(rows, "participants")

	out := make(map[domain.ConversationID][]domain.Participant)
	for rows.Next() {
		var id int64
		var p domain.Participant
		if err := rows.Scan(&id, &p.Address, &p.Name, &p.Organization); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		out[domain.ConversationID(id)] = append(out[domain.ConversationID(id)], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}

// FindOrCreateConversation returns the conversation with exactly the given
// participants, creating it if needed.
func (m *SQLiteMailbox) FindOrCreateConversation(ctx context.Context, participants []domain.Participant) (domain.ConversationID, bool, error) {
	if len(participants) == 0 {
		return 0, false, errors.New("conversation needs at least one participant")
	}
	var id domain.ConversationID
	var created bool
	err := inTx(ctx, m.db, "find or create conversation", func(tx *sql.Tx) error {
		var err error
		id, created, err = findOrCreateConversationTx(ctx, tx, participants)
		return err
	})
	return id, created, err
}

func findOrCreateConversationTx(ctx context.Context, tx *sql.Tx, participants []domain.Participant) (domain.ConversationID, bool, error) {
	key := ParticipantsKey(participants)

	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE participants_key = ?`, key).Scan(&id)
	if err == nil {
		return domain.ConversationID(id), false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("lookup conversation: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (participants_key, created_at) VALUES (?, ?)`, key, time.Now().Unix())
	if err != nil {
		return 0, false, fmt.Errorf("insert conversation: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("conversation id: %w", err)
	}
	for i, p := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, position, address, name, organization) VALUES (?, ?, ?, ?, ?)`,
			id, i, normalizeAddress(p.Address), p.Name, p.Organization); err != nil {
			return 0, false, fmt.Errorf("insert participant: %w", err)
		}
	}
	return domain.ConversationID(id), true, nil
}

// RemoveConversation deletes a conversation with its messages and draft.
func (m *SQLiteMailbox) RemoveConversation(ctx context.Context, id domain.ConversationID) error {
	var affected int64
	err := withRetry(ctx, "remove conversation", func() error {
		res, err := m.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, int64(id))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TotalUnreadCount returns the number of unread messages across all conversations.
func (m *SQLiteMailbox) TotalUnreadCount(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE read = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

const messageColumns = `
	SELECT id, conversation_id, sender_address, sender_name, sender_organization,
		outgoing, text, footer, imprint, read, delivery, state, sent_at
	FROM messages`

func scanMessage(s scanner) (domain.Message, error) {
	var msg domain.Message
	var id, conv, sentAt int64
	var outgoing, read, delivery, state int
	err := s.Scan(&id, &conv, &msg.Sender.Address, &msg.Sender.Name, &msg.Sender.Organization,
		&outgoing, &msg.Text, &msg.Footer, &msg.Imprint, &read, &delivery, &state, &sentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, err
		}
		return msg, fmt.Errorf("scan message row: %w", err)
	}
	msg.ID = domain.MessageID(id)
	msg.ConversationID = domain.ConversationID(conv)
	msg.Outgoing = outgoing != 0
	msg.Read = read != 0
	msg.Delivery = domain.DeliveryState(delivery)
	msg.State = domain.MessageState(state)
	msg.SentAt = time.Unix(sentAt, 0)
	return msg, nil
}

// Messages lists the messages of a conversation, oldest first.
func (m *SQLiteMailbox) Messages(ctx context.Context, conv domain.ConversationID) ([]domain.Message, error) {
	rows, err := m.db.QueryContext(ctx, messageColumns+` WHERE conversation_id = ? ORDER BY sent_at, id`, int64(conv))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	var msgs []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			closeRows(rows, "messages")
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	err = rows.Err()
	closeRows(rows, "messages")
	if err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	atts, err := m.attachments(ctx,
		`SELECT a.message_id, a.idx, a.filename, a.size, a.downloaded FROM attachments a
		 JOIN messages m ON m.id = a.message_id WHERE m.conversation_id = ? ORDER BY a.message_id, a.idx`,
		int64(conv))
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Attachments = atts[msgs[i].ID]
	}
	return msgs, nil
}

// Message returns one message or ErrNotFound.
func (m *SQLiteMailbox) Message(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	msg, err := scanMessage(m.db.QueryRowContext(ctx, messageColumns+` WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	atts, err := m.attachments(ctx,
		`SELECT message_id, idx, filename, size, downloaded FROM attachments WHERE message_id = ? ORDER BY idx`,
		int64(id))
	if err != nil {
		return domain.Message{}, err
	}
	msg.Attachments = atts[id]
	return msg, nil
}

func (m *SQLiteMailbox) attachments(ctx context.Context, query string, args ...any) (map[domain.MessageID][]domain.Attachment, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer closeRows(rows, "attachments")

	out := make(map[domain.MessageID][]domain.Attachment)
	for rows.Next() {
		var id int64
		var a domain.Attachment
		var downloaded int
		if err := rows.Scan(&id, &a.Index, &a.Filename, &a.Size, &downloaded); err != nil {
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}
		a.Downloaded = downloaded != 0
		out[domain.MessageID(id)] = append(out[domain.MessageID(id)], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return out, nil
}

// MarkRead marks a message as read.
func (m *SQLiteMailbox) MarkRead(ctx context.Context, id domain.MessageID) error {
	return m.execOne(ctx, "mark read", `UPDATE messages SET read = 1 WHERE id = ?`, int64(id))
}

// RemoveMessage deletes a message and returns the conversation it was in.
func (m *SQLiteMailbox) RemoveMessage(ctx context.Context, id domain.MessageID) (domain.ConversationID, error) {
	var conv int64
	err := inTx(ctx, m.db, "remove message", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = ?`, int64(id)).Scan(&conv)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, int64(id))
		return err
	})
	if err != nil {
		return 0, err
	}
	return domain.ConversationID(conv), nil
}

// ImportMessage stores an incoming message in the conversation of its
// participants, creating the conversation if needed.
func (m *SQLiteMailbox) ImportMessage(ctx context.Context, in *IncomingMessage) (domain.ConversationID, domain.MessageID, bool, error) {
	var conv domain.ConversationID
	var msgID int64
	var created bool
	err := inTx(ctx, m.db, "import message", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE envelope_id = ?`, in.EnvelopeID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return ErrExists
		}

		var err error
		conv, created, err = findOrCreateConversationTx(ctx, tx, in.Participants)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (envelope_id, conversation_id, sender_address, sender_name, sender_organization,
				outgoing, text, footer, imprint, read, delivery, state, sent_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?, ?)`,
			in.EnvelopeID, int64(conv), normalizeAddress(in.Sender.Address), in.Sender.Name, in.Sender.Organization,
			in.Text, in.Footer, in.Imprint, int(domain.DeliveryUnknown), int(domain.MessageStateVerified), in.SentAt.Unix())
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if msgID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, a := range in.Attachments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attachments (message_id, idx, filename, size, blob_ref) VALUES (?, ?, ?, ?, ?)`,
				msgID, i, a.Filename, a.Size, a.BlobRef); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, false, err
	}
	return conv, domain.MessageID(msgID), created, nil
}

// AddOutgoingMessage records a sent draft in its conversation.
func (m *SQLiteMailbox) AddOutgoingMessage(ctx context.Context, out *OutgoingMessage) (domain.MessageID, error) {
	var msgID int64
	err := inTx(ctx, m.db, "add outgoing message", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (envelope_id, conversation_id, sender_address, sender_name, sender_organization,
				outgoing, text, footer, imprint, read, delivery, state, sent_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?, '', 1, ?, ?, ?)`,
			out.EnvelopeID, int64(out.ConversationID), normalizeAddress(out.Sender.Address), out.Sender.Name,
			out.Sender.Organization, out.Text, out.Footer, int(out.Delivery), int(domain.MessageStateVerified),
			out.SentAt.Unix())
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if msgID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, a := range out.Attachments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attachments (message_id, idx, filename, size, data, downloaded) VALUES (?, ?, ?, ?, ?, 1)`,
				msgID, i, a.Filename, int64(len(a.Data)), blobEncoder.EncodeAll(a.Data, nil)); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return domain.MessageID(msgID), nil
}

// AttachmentData returns the body of a downloaded attachment. It returns
// ErrNotFound if the attachment does not exist or was not downloaded.
func (m *SQLiteMailbox) AttachmentData(ctx context.Context, id domain.MessageID, index int) ([]byte, error) {
	var data []byte
	var downloaded int
	err := m.db.QueryRowContext(ctx,
		`SELECT data, downloaded FROM attachments WHERE message_id = ? AND idx = ?`, int64(id), index).
		Scan(&data, &downloaded)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && downloaded == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attachment data: %w", err)
	}
	out, err := blobDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress attachment: %w", err)
	}
	return out, nil
}

// StoreAttachmentData stores the body of an attachment and marks it downloaded.
func (m *SQLiteMailbox) StoreAttachmentData(ctx context.Context, id domain.MessageID, index int, data []byte) error {
	return m.execOne(ctx, "store attachment data",
		`UPDATE attachments SET data = ?, downloaded = 1, size = ? WHERE message_id = ? AND idx = ?`,
		blobEncoder.EncodeAll(data, nil), int64(len(data)), int64(id), index)
}

// PendingDownloads lists the attachments whose bodies have not been fetched.
func (m *SQLiteMailbox) PendingDownloads(ctx context.Context) ([]PendingDownload, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT a.message_id, m.conversation_id, a.idx, a.size, a.blob_ref
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE a.downloaded = 0 ORDER BY a.message_id, a.idx`)
	if err != nil {
		return nil, fmt.Errorf("query pending downloads: %w", err)
	}
	defer closeRows(rows, "pending downloads")

	var out []PendingDownload
	for rows.Next() {
		var p PendingDownload
		var msg, conv int64
		if err := rows.Scan(&msg, &conv, &p.Index, &p.Size, &p.BlobRef); err != nil {
			return nil, fmt.Errorf("scan pending download: %w", err)
		}
		p.MessageID = domain.MessageID(msg)
		p.ConversationID = domain.ConversationID(conv)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending downloads: %w", err)
	}
	return out, nil
}

// Draft returns the draft of a conversation. A conversation without a
// stored draft has an empty one being edited.
func (m *SQLiteMailbox) Draft(ctx context.Context, conv domain.ConversationID) (domain.Draft, error) {
	draft := domain.Draft{ConversationID: conv}
	var state int
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(d.text, ''), COALESCE(d.state, 0)
		FROM conversations c LEFT JOIN drafts d ON d.conversation_id = c.id
		WHERE c.id = ?`, int64(conv)).Scan(&draft.Text, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Draft{}, ErrNotFound
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("query draft: %w", err)
	}
	draft.State = domain.DraftState(state)

	rows, err := m.db.QueryContext(ctx,
		`SELECT filename, size FROM draft_attachments WHERE conversation_id = ? ORDER BY id`, int64(conv))
	if err != nil {
		return domain.Draft{}, fmt.Errorf("query draft attachments: %w", err)
	}
	defer closeRows(rows, "draft attachments")
	for rows.Next() {
		a := domain.Attachment{Index: len(draft.Attachments), Downloaded: true}
		if err := rows.Scan(&a.Filename, &a.Size); err != nil {
			return domain.Draft{}, fmt.Errorf("scan draft attachment: %w", err)
		}
		draft.Attachments = append(draft.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return domain.Draft{}, fmt.Errorf("iterate draft attachments: %w", err)
	}
	return draft, nil
}

// SetDraftText replaces the draft text of a conversation.
func (m *SQLiteMailbox) SetDraftText(ctx context.Context, conv domain.ConversationID, text string) error {
	return m.upsertDraft(ctx, "set draft text", conv,
		`INSERT INTO drafts (conversation_id, text) VALUES (?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET text = excluded.text`, text)
}

// SetDraftState changes the lifecycle state of a conversation's draft.
func (m *SQLiteMailbox) SetDraftState(ctx context.Context, conv domain.ConversationID, state domain.DraftState) error {
	return m.upsertDraft(ctx, "set draft state", conv,
		`INSERT INTO drafts (conversation_id, state) VALUES (?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET state = excluded.state`, int(state))
}

func (m *SQLiteMailbox) upsertDraft(ctx context.Context, op string, conv domain.ConversationID, query string, value any) error {
	if _, err := m.Conversation(ctx, conv); err != nil {
		return err
	}
	return withRetry(ctx, op, func() error {
		_, err := m.db.ExecContext(ctx, query, int64(conv), value)
		return err
	})
}

// ClearDraft empties the draft of a conversation, attachments included.
func (m *SQLiteMailbox) ClearDraft(ctx context.Context, conv domain.ConversationID) error {
	return inTx(ctx, m.db, "clear draft", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE conversation_id = ?`, int64(conv)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM draft_attachments WHERE conversation_id = ?`, int64(conv))
		return err
	})
}

// ReadyDrafts returns the drafts handed over for sending.
func (m *SQLiteMailbox) ReadyDrafts(ctx context.Context) ([]domain.Draft, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT conversation_id FROM drafts WHERE state = ? ORDER BY conversation_id`, int(domain.DraftReadyToSend))
	if err != nil {
		return nil, fmt.Errorf("query ready drafts: %w", err)
	}
	var ids []domain.ConversationID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			closeRows(rows, "ready drafts")
			return nil, fmt.Errorf("scan ready draft: %w", err)
		}
		ids = append(ids, domain.ConversationID(id))
	}
	err = rows.Err()
	closeRows(rows, "ready drafts")
	if err != nil {
		return nil, fmt.Errorf("iterate ready drafts: %w", err)
	}

	drafts := make([]domain.Draft, 0, len(ids))
	for _, id := range ids {
		d, err := m.Draft(ctx, id)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// AddDraftAttachment appends a file to the draft of a conversation.
func (m *SQLiteMailbox) AddDraftAttachment(ctx context.Context, conv domain.ConversationID, filename string, data []byte) error {
	if _, err := m.Conversation(ctx, conv); err != nil {
		return err
	}
	return withRetry(ctx, "add draft attachment", func() error {
		_, err := m.db.ExecContext(ctx,
			`INSERT INTO draft_attachments (conversation_id, filename, size, data) VALUES (?, ?, ?, ?)`,
			int64(conv), filename, int64(len(data)), blobEncoder.EncodeAll(data, nil))
		return err
	})
}

// RemoveDraftAttachment removes the attachment at index from a draft.
func (m *SQLiteMailbox) RemoveDraftAttachment(ctx context.Context, conv domain.ConversationID, index int) error {
	return inTx(ctx, m.db, "remove draft attachment", func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM draft_attachments WHERE conversation_id = ? ORDER BY id LIMIT 1 OFFSET ?`,
			int64(conv), index).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM draft_attachments WHERE id = ?`, id)
		return err
	})
}

// DraftAttachmentData returns one draft attachment with its body.
func (m *SQLiteMailbox) DraftAttachmentData(ctx context.Context, conv domain.ConversationID, index int) (DraftAttachmentData, error) {
	var out DraftAttachmentData
	var data []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT filename, data FROM draft_attachments WHERE conversation_id = ? ORDER BY id LIMIT 1 OFFSET ?`,
		int64(conv), index).Scan(&out.Filename, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("query draft attachment: %w", err)
	}
	if out.Data, err = blobDecoder.DecodeAll(data, nil); err != nil {
		return out, fmt.Errorf("decompress draft attachment: %w", err)
	}
	return out, nil
}

// UserSettings returns the profile of the mailbox owner.
func (m *SQLiteMailbox) UserSettings(ctx context.Context) (domain.UserSettings, error) {
	var s domain.UserSettings
	err := m.db.QueryRowContext(ctx,
		`SELECT name, organization, footer, avatar, master_key_pem FROM settings WHERE id = 1`).
		Scan(&s.Name, &s.Organization, &s.Footer, &s.Avatar, &s.MasterKeyPEM)
	if err != nil {
		return s, fmt.Errorf("query settings: %w", err)
	}
	return s, nil
}

// UpdateUserSettings replaces the profile of the mailbox owner.
func (m *SQLiteMailbox) UpdateUserSettings(ctx context.Context, s domain.UserSettings) error {
	return withRetry(ctx, "update settings", func() error {
		_, err := m.db.ExecContext(ctx,
			`UPDATE settings SET name = ?, organization = ?, footer = ?, avatar = ?, master_key_pem = ? WHERE id = 1`,
			s.Name, s.Organization, s.Footer, s.Avatar, s.MasterKeyPEM)
		return err
	})
}

// LastFullSync returns the time of the last completed sync.
func (m *SQLiteMailbox) LastFullSync(ctx context.Context) (time.Time, bool, error) {
	var v sql.NullInt64
	if err := m.db.QueryRowContext(ctx, `SELECT last_full_sync FROM settings WHERE id = 1`).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("query last sync: %w", err)
	}
	t := unixOrZero(v)
	return t, !t.IsZero(), nil
}

// SetLastFullSync records the time of a completed sync.
func (m *SQLiteMailbox) SetLastFullSync(ctx context.Context, t time.Time) error {
	return withRetry(ctx, "set last sync", func() error {
		_, err := m.db.ExecContext(ctx, `UPDATE settings SET last_full_sync = ? WHERE id = 1`, t.Unix())
		return err
	})
}

func (m *SQLiteMailbox) execOne(ctx context.Context, op, query string, args ...any) error {
	var affected int64
	err := withRetry(ctx, op, func() error {
		res, err := m.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
