package user

import (
	"encoding/json"
	"fmt"
)

type CounterField string

const (
	FieldMeals    CounterField = "mealsCount"
	FieldTakeaway CounterField = "takeawayCount"
	FieldPlanner  CounterField = "plannerCount"
	FieldFriends  CounterField = "friendsCount"
)

func (f CounterField) Valid() bool {
	switch f {
	case FieldMeals, FieldTakeaway, FieldPlanner, FieldFriends:
		return true
	}
	return false
}

// Counters are the permanent progression totals stored on users/{uid}.
type Counters struct {
	MealsCount    int `json:"mealsCount"`
	TakeawayCount int `json:"takeawayCount"`
	PlannerCount  int `json:"plannerCount"`
	FriendsCount  int `json:"friendsCount"`
}

func (c Counters) Value(f CounterField) int {
	switch f {
	case FieldMeals:
		return c.MealsCount
	case FieldTakeaway:
		return c.TakeawayCount
	case FieldPlanner:
		return c.PlannerCount
	case FieldFriends:
		return c.FriendsCount
	}
	return 0
}

// FinalizedField holds the idempotency markers of applied progressions,
// mapping marker -> day applied.
const FinalizedField = "finalized"

// Document is the users/{uid} record. Fields this service does not own are
// kept verbatim so read-modify-write never drops them.
type Document struct {
	Counters
	Finalized map[string]string
	rest      map[string]json.RawMessage
}

func DecodeDocument(raw json.RawMessage) (*Document, error) {
	doc := &Document{
		Finalized: map[string]string{},
		rest:      map[string]json.RawMessage{},
	}
	if len(raw) == 0 || string(raw) == "null" {
		return doc, nil
	}

	if err := json.Unmarshal(raw, &doc.rest); err != nil {
		return nil, fmt.Errorf("malformed user record: %w", err)
	}
	if err := json.Unmarshal(raw, &doc.Counters); err != nil {
		return nil, fmt.Errorf("malformed user counters: %w", err)
	}
	if f, ok := doc.rest[FinalizedField]; ok && string(f) != "null" {
		if err := json.Unmarshal(f, &doc.Finalized); err != nil {
			return nil, fmt.Errorf("malformed finalized markers: %w", err)
		}
	}
	return doc, nil
}

func (d *Document) Add(f CounterField, amount int) {
	switch f {
	case FieldMeals:
		d.MealsCount += amount
	case FieldTakeaway:
		d.TakeawayCount += amount
	case FieldPlanner:
		d.PlannerCount += amount
	case FieldFriends:
		d.FriendsCount += amount
	}
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.rest)+5)
	for k, v := range d.rest {
		out[k] = v
	}
	out[string(FieldMeals)] = d.MealsCount
	out[string(FieldTakeaway)] = d.TakeawayCount
	out[string(FieldPlanner)] = d.PlannerCount
	out[string(FieldFriends)] = d.FriendsCount
	if len(d.Finalized) > 0 {
		out[FinalizedField] = d.Finalized
	} else {
		delete(out, FinalizedField)
	}
	return json.Marshal(out)
}
