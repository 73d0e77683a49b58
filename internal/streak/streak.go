package streak

import (
	"encoding/json"
	"fmt"
	"time"
)

// Streak is owned by one user and keyed by the friend's uid.
type Streak struct {
	FriendUID       string    `json:"friendUid,omitempty"`
	Count           int       `json:"count"`
	LastInteraction time.Time `json:"lastInteraction"`
	// LastEventID is the shared event that last advanced the streak.
	LastEventID string `json:"lastEventId,omitempty"`
	// Applied maps every shared event already counted to the day it was
	// applied. Entries age out with the finalization markers.
	Applied map[string]string `json:"appliedEvents,omitempty"`
}

// HasApplied reports whether sharedKey was already counted.
func (s *Streak) HasApplied(sharedKey string) bool {
	if sharedKey == "" {
		return false
	}
	if s.LastEventID == sharedKey {
		return true
	}
	_, ok := s.Applied[sharedKey]
	return ok
}

// MarkApplied records sharedKey as counted on day.
func (s *Streak) MarkApplied(sharedKey, day string) {
	if sharedKey == "" {
		return
	}
	if s.Applied == nil {
		s.Applied = make(map[string]string)
	}
	s.Applied[sharedKey] = day
}

func Decode(raw json.RawMessage, friendUID string) (*Streak, error) {
	var s Streak
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("malformed streak %s: %w", friendUID, err)
	}
	if s.Count < 0 {
		return nil, fmt.Errorf("malformed streak %s: negative count %d", friendUID, s.Count)
	}
	s.FriendUID = friendUID
	return &s, nil
}
