package store

import (
	"database/sql"
	"time"
)

// ErrNotFound is what every store returns for a missing row, so callers can
// keep using errors.Is(err, sql.ErrNoRows) regardless of the backend.
var ErrNotFound = sql.ErrNoRows

type ResourceType string

const (
	ResourceMaterial   ResourceType = "material"
	ResourceTranscript ResourceType = "transcript"
	ResourceNotes      ResourceType = "notes"
	ResourceURL        ResourceType = "url"
)

// Resource is an uploaded item. Data holds a file reference for materials and
// transcripts, HTML-escaped markdown for notes, and the address for urls.
type Resource struct {
	ID        int64
	FolderID  int64
	Title     string
	Type      ResourceType
	Data      string
	CreatedAt time.Time
}

type Folder struct {
	ID        int64
	GroupID   int64
	Name      string
	CreatedAt time.Time
}

type Group struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
}

type Review struct {
	ResourceID int64
	UserID     int64
	Rating     int
}

// Keywords is the stored phrase list of one resource.
type Keywords struct {
	ResourceID int64
	Phrases    []string
	CreatedAt  time.Time
}

// QueueEntry marks a resource as pending (re)indexing. An entry with FailedAt
// set is parked: it stays visible but is skipped by NextQueueEntry.
type QueueEntry struct {
	ID         int64
	ResourceID int64
	EnqueuedAt time.Time
	LastError  string
	FailedAt   *time.Time
}

func (e QueueEntry) Failed() bool {
	return e.FailedAt != nil
}

// FolderIndex is the serialized search tree of one folder.
type FolderIndex struct {
	FolderID  int64
	Tree      string
	UpdatedAt time.Time
}
