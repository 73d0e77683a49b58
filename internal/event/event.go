package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeOpenInvite Type = "openJio"
	TypeBooking    Type = "booking"
	TypeTakeaway   Type = "takeaway"
)

func (t Type) Valid() bool {
	switch t {
	case TypeOpenInvite, TypeBooking, TypeTakeaway:
		return true
	}
	return false
}

// Label is the human prefix used in derived event names.
func (t Type) Label() string {
	switch t {
	case TypeOpenInvite:
		return "Open Jio"
	case TypeBooking:
		return "Booking"
	case TypeTakeaway:
		return "Takeaway"
	}
	return string(t)
}

// ErrMalformed marks a stored record that does not decode into a valid Event.
var ErrMalformed = errors.New("malformed event record")

// Event is one participant's copy of a scheduled meal. The counterpart is
// stored under the legacy field name "uid".
type Event struct {
	ID                 string     `json:"id,omitempty"`
	Day                string     `json:"day"`
	Type               Type       `json:"type"`
	Time               string     `json:"time,omitempty"`
	Name               string     `json:"name"`
	OwnerUID           string     `json:"ownerUid"`
	CounterpartUID     string     `json:"uid"`
	SenderUID          string     `json:"senderUid"`
	SharedEventID      string     `json:"sharedEventId,omitempty"`
	ConfirmedByUser    bool       `json:"confirmedByUser"`
	ConfirmedByPartner bool       `json:"confirmedByPartner"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
}

// Decode validates a stored record. ownerUID and id come from the record's
// path and override whatever the body says.
func Decode(raw json.RawMessage, ownerUID, id string) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, ownerUID, id, err)
	}
	ev.ID = id
	ev.OwnerUID = ownerUID

	if err := ev.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, ownerUID, id, err)
	}
	return &ev, nil
}

func (e *Event) validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown type %q", e.Type)
	}
	if _, err := time.Parse("2006-01-02", e.Day); err != nil {
		return fmt.Errorf("invalid day %q", e.Day)
	}
	if e.CounterpartUID == "" {
		return errors.New("missing counterpart uid")
	}
	if e.CounterpartUID == e.OwnerUID {
		return errors.New("counterpart is the owner")
	}
	return nil
}

// Mutual reports whether both participants have confirmed, as seen from this
// copy and its mirror.
func Mutual(own, mirror *Event) bool {
	return own != nil && mirror != nil && own.ConfirmedByUser && mirror.ConfirmedByUser
}

var timeLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "3:04 pm", "3:04pm", "3PM", "3 PM"}

// ParseTime parses an event's wall-clock time. The returned value only has
// its hour and minute set.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DisplayName derives the label shown to the owner for a meal with
// counterpartName.
func DisplayName(t Type, counterpartName string) string {
	return fmt.Sprintf("%s with %s", t.Label(), counterpartName)
}
