package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conv_key + msg_id).
// A confirmed record arriving for an id that already exists as a pending
// optimistic entry lands on the same row, which is the whole reconciliation
// mechanism: never two entries, never zero.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conv_key, msg_id, sender_id, recipient_id, body, kind,
			file_name, file_type, file_size, file_ref,
			is_read, starred, delivery, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_key, msg_id) DO UPDATE SET
			body = excluded.body,
			kind = excluded.kind,
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			file_size = excluded.file_size,
			file_ref = excluded.file_ref,
			is_read = excluded.is_read,
			starred = excluded.starred,
			delivery = excluded.delivery,
			timestamp = excluded.timestamp`,
		m.ConvKey, m.MsgID, m.SenderID, m.RecipientID, m.Body, m.Kind,
		m.FileName, m.FileType, m.FileSize, m.FileRef,
		m.Read, m.Starred, m.Delivery, m.Timestamp, now)
	return err
}

// ListMessages returns the full conversation ordered by creation time
// ascending, with insert order breaking ties so pending entries stay after
// the confirmed entries they were appended after.
func (db *DB) ListMessages(convKey string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conv_key, msg_id, sender_id, recipient_id, body, kind,
		       file_name, file_type, file_size, file_ref,
		       is_read, starred, delivery, timestamp
		FROM messages
		WHERE conv_key = ?
		ORDER BY timestamp ASC, id ASC`, convKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows.Scan, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by its client-chosen identifier.
func (db *DB) GetMessage(msgID string) (*Message, error) {
	var m Message
	err := scanMessage(db.QueryRow(`
		SELECT id, conv_key, msg_id, sender_id, recipient_id, body, kind,
		       file_name, file_type, file_size, file_ref,
		       is_read, starred, delivery, timestamp
		FROM messages WHERE msg_id = ? LIMIT 1`, msgID).Scan, &m)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestMessage returns the most recent message of a conversation, or nil.
func (db *DB) LatestMessage(convKey string) (*Message, error) {
	var m Message
	err := scanMessage(db.QueryRow(`
		SELECT id, conv_key, msg_id, sender_id, recipient_id, body, kind,
		       file_name, file_type, file_size, file_ref,
		       is_read, starred, delivery, timestamp
		FROM messages WHERE conv_key = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`, convKey).Scan, &m)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListUnreadInbound returns confirmed, unread messages addressed to selfID in
// the given conversation. Only confirmed entries qualify: an id that is not
// durable yet cannot be acknowledged to the remote store.
func (db *DB) ListUnreadInbound(convKey, selfID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conv_key, msg_id, sender_id, recipient_id, body, kind,
		       file_name, file_type, file_size, file_ref,
		       is_read, starred, delivery, timestamp
		FROM messages
		WHERE conv_key = ? AND recipient_id = ? AND is_read = 0 AND delivery = ?
		ORDER BY timestamp ASC, id ASC`, convKey, selfID, DeliveryConfirmed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows.Scan, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UnreadCount counts confirmed, unread messages addressed to selfID in a conversation.
func (db *DB) UnreadCount(convKey, selfID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conv_key = ? AND recipient_id = ? AND is_read = 0 AND delivery = ?`,
		convKey, selfID, DeliveryConfirmed).Scan(&n)
	return n, err
}

// SetRead flips the read flag of a message. Idempotent.
func (db *DB) SetRead(msgID string) error {
	_, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE msg_id = ?`, msgID)
	return err
}

// SetStarred sets the starred flag of a message.
func (db *DB) SetStarred(msgID string, starred bool) error {
	_, err := db.Exec(`UPDATE messages SET starred = ? WHERE msg_id = ?`, starred, msgID)
	return err
}

// SetDelivery updates the local delivery status of a message in place.
func (db *DB) SetDelivery(msgID, delivery string) error {
	_, err := db.Exec(`UPDATE messages SET delivery = ? WHERE msg_id = ?`, delivery, msgID)
	return err
}

// SetFileRef records the durable blob reference of a file message after upload.
func (db *DB) SetFileRef(msgID, ref string) error {
	_, err := db.Exec(`UPDATE messages SET file_ref = ? WHERE msg_id = ?`, ref, msgID)
	return err
}

func scanMessage(scan func(...any) error, m *Message) error {
	return scan(&m.RowID, &m.ConvKey, &m.MsgID, &m.SenderID, &m.RecipientID,
		&m.Body, &m.Kind, &m.FileName, &m.FileType, &m.FileSize, &m.FileRef,
		&m.Read, &m.Starred, &m.Delivery, &m.Timestamp)
}
