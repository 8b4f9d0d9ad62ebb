package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type Document struct {
	ID           string
	Title        string
	SourceFormat string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

type ExportArtifact struct {
	ID         string
	DocumentID string
	Format     string
	ObjectKey  string
	SizeBytes  int64
	CreatedBy  string
	CreatedAt  time.Time
}
