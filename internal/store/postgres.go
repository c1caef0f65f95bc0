package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetResource(ctx context.Context, resourceID int64) (Resource, error) {
	var item Resource
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, title, type, data, created_at
		FROM resources
		WHERE id=$1
	`, resourceID).Scan(&item.ID, &item.FolderID, &item.Title, &kind, &item.Data, &item.CreatedAt)
	if err != nil {
		return Resource{}, err
	}
	item.Type = ResourceType(kind)
	return item, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID int64) (Folder, error) {
	var folder Folder
	err := s.db.QueryRowContext(ctx, `SELECT id, group_id, name, created_at FROM folders WHERE id=$1`, folderID).
		Scan(&folder.ID, &folder.GroupID, &folder.Name, &folder.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return folder, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID int64) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM groups WHERE id=$1`, groupID).
		Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) ListFoldersByGroup(ctx context.Context, groupID int64) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, name, created_at
		FROM folders
		WHERE group_id=$1
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var folder Folder
		if err := rows.Scan(&folder.ID, &folder.GroupID, &folder.Name, &folder.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, folder)
	}
	return items, rows.Err()
}

// IsGroupMember reports whether userID owns or belongs to the group.
func (s *PostgresStore) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM groups WHERE id=$1 AND owner_id=$2)
			OR EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)
	`, groupID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) ListRatings(ctx context.Context, resourceID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rating FROM reviews WHERE resource_id=$1 ORDER BY id`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	ratings := make([]int, 0)
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

func (s *PostgresStore) GetKeywords(ctx context.Context, resourceID int64) (Keywords, error) {
	var raw string
	item := Keywords{ResourceID: resourceID}
	err := s.db.QueryRowContext(ctx, `SELECT phrases, created_at FROM keywords WHERE resource_id=$1`, resourceID).
		Scan(&raw, &item.CreatedAt)
	if err != nil {
		return Keywords{}, err
	}
	if err := json.Unmarshal([]byte(raw), &item.Phrases); err != nil {
		return Keywords{}, fmt.Errorf("decode keywords %d: %w", resourceID, err)
	}
	return item, nil
}

// ReplaceKeywords swaps the resource's phrase list in one transaction.
func (s *PostgresStore) ReplaceKeywords(ctx context.Context, resourceID int64, phrases []string) error {
	if phrases == nil {
		phrases = []string{}
	}
	payload, err := json.Marshal(phrases)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin keywords tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE resource_id=$1`, resourceID); err != nil {
		return fmt.Errorf("delete keywords: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO keywords (resource_id, phrases) VALUES ($1, $2)`, resourceID, string(payload)); err != nil {
		return fmt.Errorf("insert keywords: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit keywords: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKeywords(ctx context.Context, resourceID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE resource_id=$1`, resourceID); err != nil {
		return fmt.Errorf("delete keywords: %w", err)
	}
	return nil
}

// EnqueueResource inserts a queue entry unless one already exists. The bool
// reports whether a new entry was created.
func (s *PostgresStore) EnqueueResource(ctx context.Context, resourceID int64) (QueueEntry, bool, error) {
	entry := QueueEntry{ResourceID: resourceID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO index_queue (resource_id)
		VALUES ($1)
		ON CONFLICT (resource_id) DO NOTHING
		RETURNING id, enqueued_at
	`, resourceID).Scan(&entry.ID, &entry.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.GetQueueEntry(ctx, resourceID)
		if getErr != nil {
			return QueueEntry{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return QueueEntry{}, false, fmt.Errorf("enqueue resource: %w", err)
	}
	return entry, true, nil
}

const queueColumns = `id, resource_id, enqueued_at, COALESCE(last_error, ''), failed_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (QueueEntry, error) {
	var entry QueueEntry
	var failedAt sql.NullTime
	if err := row.Scan(&entry.ID, &entry.ResourceID, &entry.EnqueuedAt, &entry.LastError, &failedAt); err != nil {
		return QueueEntry{}, err
	}
	if failedAt.Valid {
		at := failedAt.Time
		entry.FailedAt = &at
	}
	return entry, nil
}

func (s *PostgresStore) GetQueueEntry(ctx context.Context, resourceID int64) (QueueEntry, error) {
	return scanQueueEntry(s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM index_queue WHERE resource_id=$1`, resourceID))
}

// NextQueueEntry returns the oldest entry that has not been parked as failed.
func (s *PostgresStore) NextQueueEntry(ctx context.Context) (QueueEntry, error) {
	return scanQueueEntry(s.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM index_queue
		WHERE failed_at IS NULL
		ORDER BY id
		LIMIT 1
	`))
}

// QueueLength counts entries still waiting to be processed.
func (s *PostgresStore) QueueLength(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_queue WHERE failed_at IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListQueueEntries(ctx context.Context) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+queueColumns+` FROM index_queue ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	items := make([]QueueEntry, 0)
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteQueueEntry(ctx context.Context, resourceID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_queue WHERE resource_id=$1`, resourceID); err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkQueueEntryFailed(ctx context.Context, resourceID int64, reason string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE index_queue SET failed_at=NOW(), last_error=$2 WHERE resource_id=$1
	`, resourceID, reason); err != nil {
		return fmt.Errorf("mark queue entry failed: %w", err)
	}
	return nil
}

// RetryQueueEntry un-parks a failed entry. It reports whether an entry changed.
func (s *PostgresStore) RetryQueueEntry(ctx context.Context, resourceID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE index_queue
		SET failed_at=NULL, last_error=NULL, enqueued_at=NOW()
		WHERE resource_id=$1 AND failed_at IS NOT NULL
	`, resourceID)
	if err != nil {
		return false, fmt.Errorf("retry queue entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retry queue entry rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetFolderIndex(ctx context.Context, folderID int64) (FolderIndex, error) {
	var index FolderIndex
	err := s.db.QueryRowContext(ctx, `SELECT folder_id, tree, updated_at FROM folder_indexes WHERE folder_id=$1`, folderID).
		Scan(&index.FolderID, &index.Tree, &index.UpdatedAt)
	if err != nil {
		return FolderIndex{}, err
	}
	return index, nil
}

// UpdateFolderIndex runs mutate over the folder's serialized tree while
// holding the row lock, then stores the result. A missing row is created with
// an empty tree first.
func (s *PostgresStore) UpdateFolderIndex(ctx context.Context, folderID int64, mutate func(tree string) (string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin folder index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO folder_indexes (folder_id, tree)
		VALUES ($1, '')
		ON CONFLICT (folder_id) DO NOTHING
	`, folderID); err != nil {
		return fmt.Errorf("ensure folder index: %w", err)
	}

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT tree FROM folder_indexes WHERE folder_id=$1 FOR UPDATE`, folderID).Scan(&current); err != nil {
		return fmt.Errorf("lock folder index: %w", err)
	}

	next, err := mutate(current)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE folder_indexes SET tree=$2, updated_at=NOW() WHERE folder_id=$1`, folderID, next); err != nil {
		return fmt.Errorf("save folder index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit folder index: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFolderIndex(ctx context.Context, folderID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM folder_indexes WHERE folder_id=$1`, folderID); err != nil {
		return fmt.Errorf("delete folder index: %w", err)
	}
	return nil
}
