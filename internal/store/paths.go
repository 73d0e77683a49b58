package store

import "fmt"

// Record paths used by the meal engine.

// HealthPath is a single leaf read by the health check. It is never written.
const HealthPath = "health/ping"

func UserPath(uid string) string {
	return "users/" + uid
}

func EventsPath(uid string) string {
	return fmt.Sprintf("users/%s/events", uid)
}

func EventPath(uid, eventID string) string {
	return fmt.Sprintf("users/%s/events/%s", uid, eventID)
}

func StreakPath(uid, friendUID string) string {
	return fmt.Sprintf("users/%s/streaks/%s", uid, friendUID)
}

// RequestsPath returns the collection of incoming requests of one kind,
// e.g. users/{uid}/bookingRequests.
func RequestsPath(uid, kind string) string {
	return fmt.Sprintf("users/%s/%sRequests", uid, kind)
}

func RequestPath(uid, kind, requestID string) string {
	return fmt.Sprintf("users/%s/%sRequests/%s", uid, kind, requestID)
}

func DevicesPath(uid string) string {
	return fmt.Sprintf("users/%s/devices", uid)
}

func DevicePath(uid, token string) string {
	return fmt.Sprintf("users/%s/devices/%s", uid, token)
}
