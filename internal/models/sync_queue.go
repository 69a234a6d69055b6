// Package models provides data model definitions for HabitNexus.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType is the kind of mutation recorded in the offline queue.
type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Patch is a partial entity keyed by JSON field name.
type Patch map[string]json.RawMessage

// NewPatch builds a Patch by encoding each field value as JSON.
func NewPatch(fields map[string]interface{}) (Patch, error) {
	p := make(Patch, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode patch field %q: %w", k, err)
		}
		p[k] = raw
	}
	return p, nil
}

// Merge returns a new patch holding p's fields overlaid with next's.
func (p Patch) Merge(next Patch) Patch {
	out := make(Patch, len(p)+len(next))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// ApplyTo shallow-merges the patch into a JSON object snapshot.
func (p Patch) ApplyTo(entity json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(entity) > 0 {
		if err := json.Unmarshal(entity, &fields); err != nil {
			return nil, fmt.Errorf("entity snapshot is not a JSON object: %w", err)
		}
	}
	for k, v := range p {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// QueueOperation is a pending mutation recorded while offline.
type QueueOperation struct {
	ID        string          `json:"id"`
	Type      OperationType   `json:"type"`
	EntityID  string          `json:"entityId"`
	Entity    json.RawMessage `json:"entity,omitempty"`
	Patch     Patch           `json:"patch,omitempty"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
}

// Time returns the Timestamp as time.Time.
func (op *QueueOperation) Time() time.Time {
	return time.UnixMilli(op.Timestamp)
}
