package leads

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("lead not found")
	ErrClaimLost = errors.New("lead already claimed")
	ErrClosed    = errors.New("store closed")
)

// Status is the lifecycle of one work item. Failed sends are not persisted;
// the item goes back to StatusUnclaimed.
type Status string

const (
	StatusUnclaimed Status = "unclaimed"
	StatusClaimed   Status = "claimed"
	StatusSent      Status = "sent"
)

// normalizeStatus treats an absent status (externally populated records) as unclaimed.
func normalizeStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusClaimed:
		return StatusClaimed
	case StatusSent:
		return StatusSent
	default:
		return StatusUnclaimed
	}
}

// Item is one prospective recipient.
type Item struct {
	ID          string
	Email       string
	DisplayName string
	Status      Status

	// ClaimedBy and ClaimedAt are set only while Status is StatusClaimed.
	ClaimedBy string
	ClaimedAt time.Time

	// SentAt and SentBy are set on the transition to StatusSent.
	SentAt time.Time
	SentBy string
}

// Template is the message definition shared by every worker.
type Template struct {
	Subject   string
	BodyHTML  string
	UpdatedAt time.Time
}

func (t Template) Empty() bool {
	return strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.BodyHTML) == ""
}

// Counts summarizes the work list.
type Counts struct {
	Total     int
	Unclaimed int
	Claimed   int
	Sent      int
}

func (c *Counts) add(s Status) {
	c.Total++
	switch s {
	case StatusClaimed:
		c.Claimed++
	case StatusSent:
		c.Sent++
	default:
		c.Unclaimed++
	}
}
