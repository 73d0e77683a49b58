package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"makanMatesAPI/internal/event"
)

// Kind matches the event type the request turns into on acceptance.
type Kind = event.Type

// Request is an inbound social action waiting for the recipient's answer,
// stored at users/{recipientUid}/{kind}Requests/{id}.
type Request struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	SenderUID     string    `json:"senderUid"`
	SenderName    string    `json:"senderName"`
	RecipientUID  string    `json:"recipientUid"`
	RecipientName string    `json:"recipientName"`
	Day           string    `json:"day"`
	Time          string    `json:"time,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type CreateRequest struct {
	Kind          Kind   `json:"kind"`
	SenderName    string `json:"senderName"`
	RecipientUID  string `json:"recipientUid"`
	RecipientName string `json:"recipientName"`
	Day           string `json:"day"`
	Time          string `json:"time,omitempty"`
}

var ErrInvalid = errors.New("invalid request")

func (r *Request) Validate() error {
	switch {
	case !r.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, r.Kind)
	case r.SenderUID == "" || r.RecipientUID == "":
		return fmt.Errorf("%w: sender and recipient are required", ErrInvalid)
	case r.SenderUID == r.RecipientUID:
		return fmt.Errorf("%w: cannot send a request to yourself", ErrInvalid)
	}
	if _, err := time.Parse("2006-01-02", r.Day); err != nil {
		return fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalid)
	}
	if r.Kind == event.TypeBooking {
		if _, ok := event.ParseTime(r.Time); !ok {
			return fmt.Errorf("%w: booking requires a time", ErrInvalid)
		}
	}
	return nil
}

func Decode(raw json.RawMessage, recipientUID string, kind Kind, id string) (*Request, error) {
	var r Request
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: malformed request %s: %v", ErrInvalid, id, err)
	}
	r.ID = id
	r.Kind = kind
	r.RecipientUID = recipientUID
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
