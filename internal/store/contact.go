package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact. Summary fields are preserved;
// directory refreshes only carry identity fields.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, display_name, role, is_self, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			role = CASE WHEN excluded.role != '' THEN excluded.role ELSE contacts.role END,
			is_self = excluded.is_self,
			updated_at = excluded.updated_at`,
		c.ID, c.DisplayName, c.Role, c.IsSelf, now)
	return err
}

// BulkUpsertContacts applies a directory refresh in a single transaction.
// Rows absent from the refresh are kept, not deleted: removing the active
// conversation's contact from view on a partial refresh is worse than
// showing a stale entry.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, display_name, role, is_self, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
				role = CASE WHEN excluded.role != '' THEN excluded.role ELSE contacts.role END,
				is_self = excluded.is_self,
				updated_at = excluded.updated_at`,
			c.ID, c.DisplayName, c.Role, c.IsSelf, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns all contacts, most recently active first.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, display_name, role, is_self, preview, last_message_at, unread
		FROM contacts
		ORDER BY last_message_at DESC, display_name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Role, &c.IsSelf, &c.Preview, &c.LastMessageAt, &c.Unread); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContact returns a contact by id.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT id, display_name, role, is_self, preview, last_message_at, unread
		FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.Role, &c.IsSelf, &c.Preview, &c.LastMessageAt, &c.Unread)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateSummary caches the aggregated preview/unread state on a contact row.
// Creates the row if the contact is not in the directory yet.
func (db *DB) UpdateSummary(contactID, preview string, lastMessageAt int64, unread int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, preview, last_message_at, unread, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			preview = excluded.preview,
			last_message_at = excluded.last_message_at,
			unread = excluded.unread,
			updated_at = excluded.updated_at`,
		contactID, preview, lastMessageAt, unread, now)
	return err
}
