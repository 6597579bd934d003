package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"callme-notifier/models"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// Envelope is the database webhook body: the new row under record and the
// previous row under old_record (null on INSERT).
type Envelope struct {
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Schema    string          `json:"schema,omitempty"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	env.Type = strings.ToUpper(strings.TrimSpace(env.Type))
	return env, nil
}

func hasRow(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// ProfileChangeEvent is a validated profiles UPDATE. Old is nil when the
// trigger did not carry a previous row.
type ProfileChangeEvent struct {
	Type string
	New  models.Profile
	Old  *models.Profile
}

// ProfileEvent decodes and validates a profiles change.
func (e Envelope) ProfileEvent() (ProfileChangeEvent, error) {
	var ev ProfileChangeEvent
	if !hasRow(e.Record) {
		return ev, fmt.Errorf("%w: missing record", ErrInvalidPayload)
	}
	if err := json.Unmarshal(e.Record, &ev.New); err != nil {
		return ev, fmt.Errorf("%w: record: %v", ErrInvalidPayload, err)
	}
	if ev.New.ID == "" {
		return ev, fmt.Errorf("%w: record without id", ErrInvalidPayload)
	}
	if hasRow(e.OldRecord) {
		var old models.Profile
		if err := json.Unmarshal(e.OldRecord, &old); err != nil {
			return ev, fmt.Errorf("%w: old_record: %v", ErrInvalidPayload, err)
		}
		ev.Old = &old
	}
	ev.Type = e.Type
	return ev, nil
}

// AvailabilityRisingEdge is true only for a false/absent -> true flip.
func (ev ProfileChangeEvent) AvailabilityRisingEdge() bool {
	if !ev.New.IsAvailable {
		return false
	}
	return ev.Old == nil || !ev.Old.IsAvailable
}

// FriendshipChangeEvent is a validated friendships change.
type FriendshipChangeEvent struct {
	Type string
	New  models.Friendship
}

func (e Envelope) FriendshipEvent() (FriendshipChangeEvent, error) {
	var ev FriendshipChangeEvent
	if !hasRow(e.Record) {
		return ev, fmt.Errorf("%w: missing record", ErrInvalidPayload)
	}
	if err := json.Unmarshal(e.Record, &ev.New); err != nil {
		return ev, fmt.Errorf("%w: record: %v", ErrInvalidPayload, err)
	}
	if ev.New.UserID == "" || ev.New.FriendID == "" {
		return ev, fmt.Errorf("%w: friendship without endpoints", ErrInvalidPayload)
	}
	ev.Type = e.Type
	return ev, nil
}

// IsNewPendingRequest is true for an inserted row still pending. An empty
// type is accepted because some trigger setups omit it.
func (ev FriendshipChangeEvent) IsNewPendingRequest() bool {
	if ev.Type != "" && ev.Type != ChangeInsert {
		return false
	}
	return ev.New.Status == models.FriendshipPending
}
