package core

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// runNamespace scopes deterministic run identifiers.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("abkit.run"))

// NewRunID derives a stable identifier from a seed and a label, so two runs with the
// same seed and configuration report the same ID.
func NewRunID(label string, seed uint64) RunID {
	buf := make([]byte, 8, 8+len(label))
	binary.LittleEndian.PutUint64(buf, seed)
	buf = append(buf, label...)
	return RunID(uuid.NewSHA1(runNamespace, buf).String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	RunID  ID
	UnitID ID
)

// String conversions for domain IDs
func (id RunID) String() string  { return ID(id).String() }
func (id UnitID) String() string { return ID(id).String() }
