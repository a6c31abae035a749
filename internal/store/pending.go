package store

import "time"

// QueueWrite records an optimistic send in the pending-write ledger.
func (db *DB) QueueWrite(msgID, convKey string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_writes (msg_id, conv_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		msgID, convKey, WriteQueued, now, now)
	return err
}

// MarkWriteConfirmed flips a ledger entry to confirmed.
func (db *DB) MarkWriteConfirmed(msgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_writes SET status = ?, updated_at = ? WHERE msg_id = ?`,
		WriteConfirmed, now, msgID)
	return err
}

// MarkWriteFailed flips a ledger entry to failed with the error message.
// Failed entries stay in the ledger; there is no automatic retry.
func (db *DB) MarkWriteFailed(msgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_writes SET status = ?, error = ?, updated_at = ? WHERE msg_id = ?`,
		WriteFailed, errMsg, now, msgID)
	return err
}

// QueuedWrites returns ledger entries awaiting persistence, oldest first.
func (db *DB) QueuedWrites() ([]PendingWrite, error) {
	rows, err := db.Query(`
		SELECT id, msg_id, conv_key, status, error
		FROM pending_writes WHERE status = ? ORDER BY created_at ASC`, WriteQueued)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []PendingWrite
	for rows.Next() {
		var e PendingWrite
		if err := rows.Scan(&e.ID, &e.MsgID, &e.ConvKey, &e.Status, &e.Error); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
