package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"bds-warehouse/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("storage: not found")

var fileColumns = []string{
	"id", "file_path", "data_date", "row_count", "checksum", "status",
	"author", "error_message", "created_at", "updated_at",
}

var processColumns = []string{
	"id", "run_id", "file_id", "process_name", "status",
	"error_message", "started_at", "updated_at",
}

// ControlStore persists batch files and stage invocations.
type ControlStore struct {
	db *DB
}

// NewControlStore wraps the control database.
func NewControlStore(db *DB) *ControlStore {
	return &ControlStore{db: db}
}

// DB returns the underlying handle.
func (s *ControlStore) DB() *DB { return s.db }

// UpsertFile inserts a batch record or, when the path is already known,
// refreshes it in place and clears any previous error. Returns the id.
func (s *ControlStore) UpsertFile(ctx context.Context, rec models.FileRecord) (int64, error) {
	b := s.db.Dialect.Builder().
		Insert("file_log").
		Columns("file_path", "data_date", "row_count", "checksum", "status",
			"author", "error_message", "created_at", "updated_at").
		Values(rec.Path, DateArg(rec.DataDate), rec.RowCount, rec.Checksum, rec.Status,
			rec.Author, "", rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (file_path) DO UPDATE SET
			data_date = EXCLUDED.data_date,
			row_count = EXCLUDED.row_count,
			checksum = EXCLUDED.checksum,
			status = EXCLUDED.status,
			author = EXCLUDED.author,
			error_message = '',
			updated_at = EXCLUDED.updated_at`)

	id, err := insertReturningID(ctx, s.db, b, "id")
	if err != nil {
		return 0, fmt.Errorf("control: upsert file %q: %w", rec.Path, err)
	}
	return id, nil
}

// GetFile returns one batch record.
func (s *ControlStore) GetFile(ctx context.Context, id int64) (*models.FileRecord, error) {
	files, err := s.selectFiles(ctx, s.db, s.db.Dialect.Builder().
		Select(fileColumns...).From("file_log").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("control: file %d: %w", id, ErrNotFound)
	}
	return &files[0], nil
}

// ListFiles returns batch records ordered by id, optionally filtered to the
// given statuses.
func (s *ControlStore) ListFiles(ctx context.Context, statuses ...models.BatchStatus) ([]models.FileRecord, error) {
	b := s.db.Dialect.Builder().Select(fileColumns...).From("file_log").OrderBy("id")
	if len(statuses) > 0 {
		b = b.Where(sq.Eq{"status": statusArgs(statuses)})
	}
	return s.selectFiles(ctx, s.db, b)
}

// OldestFile returns the lowest-id batch whose status is one of statuses.
func (s *ControlStore) OldestFile(ctx context.Context, statuses []models.BatchStatus) (*models.FileRecord, error) {
	files, err := s.selectFiles(ctx, s.db, s.db.Dialect.Builder().
		Select(fileColumns...).From("file_log").
		Where(sq.Eq{"status": statusArgs(statuses)}).
		OrderBy("id").Limit(1))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("control: oldest file in %v: %w", statuses, ErrNotFound)
	}
	return &files[0], nil
}

// SetFileStatus moves a batch to status and records errMsg (empty on success).
func (s *ControlStore) SetFileStatus(ctx context.Context, q Querier, id int64, status models.BatchStatus, errMsg string, now time.Time) error {
	res, err := execBuilt(ctx, q, s.db.Dialect.Builder().
		Update("file_log").
		Set("status", status).
		Set("error_message", errMsg).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("control: set file %d status: %w", id, err)
	}
	return expectOneRow(res, fmt.Sprintf("control: file %d", id))
}

// CreateProcess inserts a stage invocation and returns its id.
func (s *ControlStore) CreateProcess(ctx context.Context, rec models.ProcessRecord) (int64, error) {
	b := s.db.Dialect.Builder().
		Insert("process_log").
		Columns("run_id", "file_id", "process_name", "status", "error_message", "started_at", "updated_at").
		Values(rec.RunID, nullableID(rec.FileID), rec.Name, rec.Status, rec.ErrorMessage,
			rec.StartedAt.UTC(), rec.UpdatedAt.UTC())

	id, err := insertReturningID(ctx, s.db, b, "id")
	if err != nil {
		return 0, fmt.Errorf("control: create process %s: %w", rec.Name, err)
	}
	return id, nil
}

// FinishProcess records the terminal status of a stage invocation. fileID,
// when set, links the process to the batch a source stage produced.
func (s *ControlStore) FinishProcess(ctx context.Context, q Querier, id int64, status models.ProcessStatus, errMsg string, fileID *int64, now time.Time) error {
	b := s.db.Dialect.Builder().
		Update("process_log").
		Set("status", status).
		Set("error_message", errMsg).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{"id": id})
	if fileID != nil {
		b = b.Set("file_id", *fileID)
	}

	res, err := execBuilt(ctx, q, b)
	if err != nil {
		return fmt.Errorf("control: finish process %d: %w", id, err)
	}
	return expectOneRow(res, fmt.Sprintf("control: process %d", id))
}

// GetProcess returns one stage invocation.
func (s *ControlStore) GetProcess(ctx context.Context, id int64) (*models.ProcessRecord, error) {
	procs, err := s.selectProcesses(ctx, s.db.Dialect.Builder().
		Select(processColumns...).From("process_log").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(procs) == 0 {
		return nil, fmt.Errorf("control: process %d: %w", id, ErrNotFound)
	}
	return &procs[0], nil
}

// ListProcesses returns the most recent stage invocations, newest first.
func (s *ControlStore) ListProcesses(ctx context.Context, limit int) ([]models.ProcessRecord, error) {
	b := s.db.Dialect.Builder().Select(processColumns...).From("process_log").OrderBy("id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.selectProcesses(ctx, b)
}

// ProcessesForFile returns every invocation recorded against a batch.
func (s *ControlStore) ProcessesForFile(ctx context.Context, fileID int64) ([]models.ProcessRecord, error) {
	return s.selectProcesses(ctx, s.db.Dialect.Builder().
		Select(processColumns...).From("process_log").
		Where(sq.Eq{"file_id": fileID}).OrderBy("id"))
}

func (s *ControlStore) selectFiles(ctx context.Context, q Querier, b sq.SelectBuilder) ([]models.FileRecord, error) {
	rows, err := queryBuilt(ctx, q, b)
	if err != nil {
		return nil, fmt.Errorf("control: query files: %w", err)
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		var (
			f                          models.FileRecord
			dataDate, created, updated nullTime
		)
		if err := rows.Scan(&f.ID, &f.Path, &dataDate, &f.RowCount, &f.Checksum, &f.Status,
			&f.Author, &f.ErrorMessage, &created, &updated); err != nil {
			return nil, fmt.Errorf("control: scan file: %w", err)
		}
		f.DataDate = dataDate.Date()
		f.CreatedAt = created.UTC()
		f.UpdatedAt = updated.UTC()
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *ControlStore) selectProcesses(ctx context.Context, b sq.SelectBuilder) ([]models.ProcessRecord, error) {
	rows, err := queryBuilt(ctx, s.db, b)
	if err != nil {
		return nil, fmt.Errorf("control: query processes: %w", err)
	}
	defer rows.Close()

	var procs []models.ProcessRecord
	for rows.Next() {
		var (
			p                models.ProcessRecord
			fileID           sql.NullInt64
			started, updated nullTime
		)
		if err := rows.Scan(&p.ID, &p.RunID, &fileID, &p.Name, &p.Status,
			&p.ErrorMessage, &started, &updated); err != nil {
			return nil, fmt.Errorf("control: scan process: %w", err)
		}
		if fileID.Valid {
			id := fileID.Int64
			p.FileID = &id
		}
		p.StartedAt = started.UTC()
		p.UpdatedAt = updated.UTC()
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

func statusArgs(statuses []models.BatchStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
