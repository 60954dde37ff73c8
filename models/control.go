package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownStatus is returned when a stored or supplied status code does not
// name a known state.
var ErrUnknownStatus = errors.New("unknown status")

// ProcessStatus is the lifecycle state of one stage invocation.
type ProcessStatus string

// Process states persisted in process_log.status.
const (
	ProcessPending ProcessStatus = "PS"
	ProcessSuccess ProcessStatus = "SC"
	ProcessFailure ProcessStatus = "FL"
)

// ParseProcessStatus validates a stored process status code.
func ParseProcessStatus(code string) (ProcessStatus, error) {
	switch s := ProcessStatus(code); s {
	case ProcessPending, ProcessSuccess, ProcessFailure:
		return s, nil
	}
	return "", fmt.Errorf("process status %q: %w", code, ErrUnknownStatus)
}

// Terminal reports whether no further transition is allowed.
func (s ProcessStatus) Terminal() bool {
	return s == ProcessSuccess || s == ProcessFailure
}

// CanTransition reports whether a process may move from s to next.
// A process is created Pending and transitions exactly once.
func (s ProcessStatus) CanTransition(next ProcessStatus) bool {
	return s == ProcessPending && next.Terminal()
}

func (s ProcessStatus) String() string {
	switch s {
	case ProcessPending:
		return "pending"
	case ProcessSuccess:
		return "success"
	case ProcessFailure:
		return "failure"
	}
	return string(s)
}

// Value implements driver.Valuer.
func (s ProcessStatus) Value() (driver.Value, error) {
	if _, err := ParseProcessStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

// Scan implements sql.Scanner and rejects unknown codes.
func (s *ProcessStatus) Scan(src any) error {
	code, err := scanCode(src)
	if err != nil {
		return err
	}
	parsed, err := ParseProcessStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// BatchStatus is the pipeline position of one batch file.
type BatchStatus string

// Batch states persisted in file_log.status.
const (
	BatchExtracted           BatchStatus = "ER"
	BatchStagingFailed       BatchStatus = "EF"
	BatchStaged              BatchStatus = "ST"
	BatchTransformFailed     BatchStatus = "TF"
	BatchTransformed         BatchStatus = "TR"
	BatchWarehouseLoadFailed BatchStatus = "WF"
	BatchLoadedToWarehouse   BatchStatus = "DW"
	BatchMartLoadFailed      BatchStatus = "MF"
	BatchOK                  BatchStatus = "OK"
)

// AllBatchStatuses lists every batch state in pipeline order.
var AllBatchStatuses = []BatchStatus{
	BatchExtracted,
	BatchStagingFailed,
	BatchStaged,
	BatchTransformFailed,
	BatchTransformed,
	BatchWarehouseLoadFailed,
	BatchLoadedToWarehouse,
	BatchMartLoadFailed,
	BatchOK,
}

// ParseBatchStatus validates a stored batch status code.
func ParseBatchStatus(code string) (BatchStatus, error) {
	for _, s := range AllBatchStatuses {
		if string(s) == code {
			return s, nil
		}
	}
	return "", fmt.Errorf("batch status %q: %w", code, ErrUnknownStatus)
}

// Failed reports whether s is one of the per-stage failure markers.
func (s BatchStatus) Failed() bool {
	switch s {
	case BatchStagingFailed, BatchTransformFailed, BatchWarehouseLoadFailed, BatchMartLoadFailed:
		return true
	}
	return false
}

func (s BatchStatus) String() string {
	switch s {
	case BatchExtracted:
		return "extracted"
	case BatchStagingFailed:
		return "staging_failed"
	case BatchStaged:
		return "staged"
	case BatchTransformFailed:
		return "transform_failed"
	case BatchTransformed:
		return "transformed"
	case BatchWarehouseLoadFailed:
		return "warehouse_load_failed"
	case BatchLoadedToWarehouse:
		return "loaded_to_warehouse"
	case BatchMartLoadFailed:
		return "mart_load_failed"
	case BatchOK:
		return "ok"
	}
	return string(s)
}

// Value implements driver.Valuer.
func (s BatchStatus) Value() (driver.Value, error) {
	if _, err := ParseBatchStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

// Scan implements sql.Scanner and rejects unknown codes.
func (s *BatchStatus) Scan(src any) error {
	code, err := scanCode(src)
	if err != nil {
		return err
	}
	parsed, err := ParseBatchStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func scanCode(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("null status: %w", ErrUnknownStatus)
	}
	return "", fmt.Errorf("status of type %T: %w", src, ErrUnknownStatus)
}

// ProcessRecord is one row of process_log: a single stage invocation.
type ProcessRecord struct {
	ID           int64         `json:"id"`
	RunID        string        `json:"run_id"`
	FileID       *int64        `json:"file_id,omitempty"`
	Name         string        `json:"process_name"`
	Status       ProcessStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// FileRecord is one row of file_log: a batch artifact tracked through the
// pipeline. Path is unique; re-crawls on the same day update the same row.
type FileRecord struct {
	ID           int64       `json:"id"`
	Path         string      `json:"file_path"`
	DataDate     time.Time   `json:"data_date"`
	RowCount     int         `json:"row_count"`
	Checksum     string      `json:"checksum"`
	Status       BatchStatus `json:"status"`
	Author       string      `json:"author"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
