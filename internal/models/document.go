package models

import (
	"time"
)

// Document is one node of the JSON document tree when it is kept in Postgres.
// Key is empty for the collection-level value (for example "settings").
type Document struct {
	Collection string `gorm:"primaryKey;size:128"`
	Key        string `gorm:"column:doc_key;primaryKey;size:128"`
	Value      string `gorm:"type:text;not null"`
	ETag       string `gorm:"column:etag;size:64;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
