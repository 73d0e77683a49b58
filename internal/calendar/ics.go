package calendar

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"makanMatesAPI/internal/event"
)

const productID = "-//makanMates//Today//EN"

// BookingDuration is the length given to timed events in the export.
const BookingDuration = time.Hour

// Render serializes one user's events as an iCalendar document. Events with
// a parseable time become timed entries in loc; the rest are all-day.
func Render(events []*event.Event, loc *time.Location, stamp time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("makanMates")
	cal.SetXWRTimezone(loc.String())

	for _, ev := range events {
		day, err := time.ParseInLocation("2006-01-02", ev.Day, loc)
		if err != nil {
			return "", err
		}

		vevent := cal.AddEvent(uid(ev))
		vevent.SetDtStampTime(stamp)
		vevent.SetSummary(ev.Name)
		if ev.CreatedAt != nil {
			vevent.SetCreatedTime(*ev.CreatedAt)
		}

		if t, ok := event.ParseTime(ev.Time); ok {
			start := time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
			vevent.SetStartAt(start)
			vevent.SetEndAt(start.Add(BookingDuration))
		} else {
			vevent.SetAllDayStartAt(day)
			vevent.SetAllDayEndAt(day.AddDate(0, 0, 1))
		}

		if ev.ConfirmedByUser {
			vevent.SetStatus(ical.ObjectStatusConfirmed)
		} else {
			vevent.SetStatus(ical.ObjectStatusTentative)
		}
	}

	return cal.Serialize(), nil
}

func uid(ev *event.Event) string {
	key := ev.SharedEventID
	if key == "" {
		key = ev.ID
	}
	return key + "@" + ev.OwnerUID + ".makanmates"
}
