package syncer

type EventKind string

const (
	EventUpdateSent   EventKind = "update_sent"
	EventUpdateFailed EventKind = "update_failed"
)

// Event reports the remote result of one criterion edit.
type Event struct {
	Kind        EventKind
	HouseKey    string
	HID         int64
	CriterionID int64
	Value       float64
	Err         error
}
