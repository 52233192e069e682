package events

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusCancelled Status = "CANCELLED"
	StatusEnded     Status = "ENDED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusCancelled, StatusEnded:
		return true
	}
	return false
}

// IsOnSale reports whether seats of the event may be reserved.
func (s Status) IsOnSale() bool {
	return s == StatusPublished
}
