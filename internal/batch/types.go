package batch

import (
	"fmt"
	"time"

	"emperror.dev/errors"
)

type OperationKind int

const (
	OperationCreate OperationKind = iota
	OperationUpdate
	OperationDelete
)

func (k OperationKind) String() string {
	switch k {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// RequiresContent is true for kinds that write a file.
func (k OperationKind) RequiresContent() bool {
	switch k {
	case OperationCreate, OperationUpdate:
		return true
	case OperationDelete:
		return false
	}
	panic(fmt.Sprintf("unknown operation kind %d", int(k)))
}

func ParseOperationKind(s string) (OperationKind, error) {
	switch s {
	case "create":
		return OperationCreate, nil
	case "update":
		return OperationUpdate, nil
	case "delete":
		return OperationDelete, nil
	}
	return 0, errors.Errorf("unknown operation kind %q", s)
}

func (k OperationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OperationKind) UnmarshalText(b []byte) error {
	parsed, err := ParseOperationKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type OperationStatus int

const (
	OperationPending OperationStatus = iota
	OperationCommitted
	OperationFailed
)

func (s OperationStatus) String() string {
	switch s {
	case OperationPending:
		return "pending"
	case OperationCommitted:
		return "committed"
	case OperationFailed:
		return "failed"
	}
	return fmt.Sprintf("OperationStatus(%d)", int(s))
}

func (s OperationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OperationStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = OperationPending
	case "committed":
		*s = OperationCommitted
	case "failed":
		*s = OperationFailed
	default:
		return errors.Errorf("unknown operation status %q", string(b))
	}
	return nil
}

type Status int

const (
	StatusPending Status = iota
	StatusCommitted
	StatusFailed
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusFailed:
		return "failed"
	case StatusRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal is true once a batch can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending:
		return false
	case StatusCommitted, StatusFailed, StatusRolledBack:
		return true
	}
	panic(fmt.Sprintf("unknown batch status %d", int(s)))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = StatusPending
	case "committed":
		*s = StatusCommitted
	case "failed":
		*s = StatusFailed
	case "rolled_back":
		*s = StatusRolledBack
	default:
		return errors.Errorf("unknown batch status %q", string(b))
	}
	return nil
}

// Operation is a single intended file change within a batch.
type Operation struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind"`
	Path      string          `json:"path"`
	Content   string          `json:"content,omitempty"`
	Status    OperationStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Batch is a set of operations that is committed as exactly one commit (or
// not at all).
type Batch struct {
	ID         string      `json:"id"`
	Branch     string      `json:"branch"`
	Message    string      `json:"message"`
	Operations []Operation `json:"operations"`
	Status     Status      `json:"status"`
	// CommitID and CommitURL are only set if the batch was committed.
	CommitID    string    `json:"commitId,omitempty"`
	CommitURL   string    `json:"commitUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Copy returns a copy of the batch that shares no memory with the original.
func (b Batch) Copy() Batch {
	c := b
	c.Operations = append([]Operation(nil), b.Operations...)
	return c
}

type CommitResult struct {
	BatchID   string
	CommitID  string
	CommitURL string
	Verified  bool
}
