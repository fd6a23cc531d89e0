// Package audit records control actions taken through the gridview API.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/store"
)

// Recorder writes audit events for state-mutating actions.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a new audit recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record writes an event for an action against a subject. The request
// payload is hashed into the detail so the event is reproducible without
// storing the full body.
func (r *Recorder) Record(action, subject string, payload interface{}) (*models.Event, error) {
	detail := ""
	if payload != nil {
		detail = fmt.Sprintf("inputs=%s", hashPayload(payload))
	}
	return r.store.AppendEvent(action, subject, detail)
}

// Recent returns the latest audit events.
func (r *Recorder) Recent(limit int) ([]models.Event, error) {
	return r.store.ListEvents(limit)
}

// hashPayload creates a SHA256 hash of the payload for reproducibility.
func hashPayload(payload interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
