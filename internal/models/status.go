// ABOUTME: Per-article status flags tracked independently of article bodies
// ABOUTME: A status row outlives its article so starred and unread bookkeeping survives pruning

package models

import (
	"fmt"
	"time"
)

// StatusKey names one of the boolean flags on an ArticleStatus.
type StatusKey string

const (
	StatusRead        StatusKey = "read"
	StatusStarred     StatusKey = "starred"
	StatusUserDeleted StatusKey = "userDeleted"
)

// ParseStatusKey converts user input into a StatusKey.
func ParseStatusKey(s string) (StatusKey, error) {
	switch StatusKey(s) {
	case StatusRead, StatusStarred, StatusUserDeleted:
		return StatusKey(s), nil
	default:
		return "", fmt.Errorf("unknown status key: %q", s)
	}
}

// Column returns the statuses table column backing the key.
func (k StatusKey) Column() string {
	switch k {
	case StatusRead:
		return "read"
	case StatusStarred:
		return "starred"
	case StatusUserDeleted:
		return "user_deleted"
	}
	return ""
}

// ArticleStatus holds the mutable flags for one article id.
type ArticleStatus struct {
	ArticleID   string
	Read        bool
	Starred     bool
	UserDeleted bool
	DateArrived time.Time
}

// NewArticleStatus creates a status that arrived now.
func NewArticleStatus(articleID string, read bool) ArticleStatus {
	return ArticleStatus{
		ArticleID:   articleID,
		Read:        read,
		DateArrived: time.Now().UTC().Truncate(time.Second),
	}
}

// Flag returns the value of the given key.
func (s ArticleStatus) Flag(key StatusKey) bool {
	switch key {
	case StatusRead:
		return s.Read
	case StatusStarred:
		return s.Starred
	case StatusUserDeleted:
		return s.UserDeleted
	}
	return false
}

// SetFlag sets the value of the given key.
func (s *ArticleStatus) SetFlag(key StatusKey, flag bool) {
	switch key {
	case StatusRead:
		s.Read = flag
	case StatusStarred:
		s.Starred = flag
	case StatusUserDeleted:
		s.UserDeleted = flag
	}
}

// Retained reports whether the status keeps its article visible in default fetches.
func (s ArticleStatus) Retained(cutoff time.Time) bool {
	if s.UserDeleted {
		return false
	}
	return s.Starred || s.DateArrived.After(cutoff)
}
