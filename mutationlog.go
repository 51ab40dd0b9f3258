package brigade

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Enqueue appends a local change to the durable mutation log and stamps the
// matching replica row as pending, atomically. It never blocks on the
// network; a storage failure surfaces as *StorageError and the caller's
// higher-level operation must fail loudly rather than proceed as if queued.
func (s *Store) Enqueue(entity EntityType, action Action, recordID string, payload Payload) (*MutationRecord, error) {
	if !entity.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if !action.IsValid() {
		return nil, ErrInvalidAction
	}
	if recordID == "" {
		return nil, ErrEmptyRecordID
	}
	if action != ActionDelete {
		if payload == nil {
			return nil, ErrMissingPayload
		}
		if payload.Entity() != entity {
			return nil, &ValidationError{Field: "payload", Message: "payload entity does not match mutation entity"}
		}
		if err := payload.Validate(); err != nil {
			return nil, err
		}
	}

	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, &StorageError{Op: "enqueue: begin transaction", Err: err}
	}
	defer tx.Rollback() // no-op if committed

	res, err := tx.Exec(`
		INSERT INTO mutation_log (entity_type, action, record_id, payload, enqueued_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(entity),
		string(action),
		recordID,
		nullString(string(raw)),
		now.Format(time.RFC3339Nano),
		string(StatusPending),
	)
	if err != nil {
		return nil, &StorageError{Op: "enqueue: insert mutation", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, &StorageError{Op: "enqueue: last insert id", Err: err}
	}

	// A pending replica row always has a matching PENDING or FAILED
	// mutation, so the replica write happens in the same transaction.
	switch action {
	case ActionDelete:
		_, err = tx.Exec(`DELETE FROM replica WHERE entity_type = ? AND record_id = ?`,
			string(entity), recordID)
	default:
		_, err = tx.Exec(`
			INSERT INTO replica (entity_type, record_id, data, sync_status)
			VALUES (?, ?, ?, 'pending')
			ON CONFLICT (entity_type, record_id) DO UPDATE SET
				data = excluded.data,
				sync_status = 'pending'
		`, string(entity), recordID, string(raw))
	}
	if err != nil {
		return nil, &StorageError{Op: "enqueue: update replica", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "enqueue: commit", Err: err}
	}

	return &MutationRecord{
		ID:         id,
		EntityType: entity,
		Action:     action,
		RecordID:   recordID,
		Payload:    payload,
		RawPayload: raw,
		EnqueuedAt: now,
		Status:     StatusPending,
	}, nil
}

// Drain returns all mutations matching the given statuses in enqueue order.
// Order is FIFO per record via the monotonic sequence id; entity types may
// interleave since only per-record order matters to the server.
func (s *Store) Drain(statuses ...MutationStatus) ([]MutationRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	query := fmt.Sprintf(`
		SELECT id, entity_type, action, record_id, payload, enqueued_at,
		       status, retry_count, last_error, synced_at
		FROM mutation_log
		WHERE status IN (%s)
		ORDER BY id ASC
	`, strings.Join(placeholders, ","))

	return s.queryMutations(query, args...)
}

// DrainRetryable returns the PENDING and FAILED mutations eligible for the
// next push: failures at or beyond maxRetries are excluded and must be
// surfaced for manual attention instead of retrying forever.
func (s *Store) DrainRetryable(maxRetries int) ([]MutationRecord, error) {
	query := `
		SELECT id, entity_type, action, record_id, payload, enqueued_at,
		       status, retry_count, last_error, synced_at
		FROM mutation_log
		WHERE (status = 'PENDING' OR (status = 'FAILED' AND retry_count < ?))
		ORDER BY id ASC
	`
	return s.queryMutations(query, maxRetries)
}

func (s *Store) queryMutations(query string, args ...any) ([]MutationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query mutations", Err: err}
	}
	defer rows.Close()

	var results []MutationRecord
	for rows.Next() {
		rec, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}

	return results, rows.Err()
}

// Mutation returns a single mutation by its sequence id.
func (s *Store) Mutation(id int64) (*MutationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, entity_type, action, record_id, payload, enqueued_at,
		       status, retry_count, last_error, synced_at
		FROM mutation_log WHERE id = ?
	`, id)

	return scanMutation(row)
}

func scanMutation(sc scanner) (*MutationRecord, error) {
	var (
		rec        MutationRecord
		entity     string
		action     string
		payload    sql.NullString
		enqueuedAt string
		status     string
		lastError  sql.NullString
		syncedAt   sql.NullString
	)

	err := sc.Scan(
		&rec.ID,
		&entity,
		&action,
		&rec.RecordID,
		&payload,
		&enqueuedAt,
		&status,
		&rec.RetryCount,
		&lastError,
		&syncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "scan mutation", Err: err}
	}

	rec.EntityType = EntityType(entity)
	rec.Action = Action(action)
	rec.Status = MutationStatus(status)
	rec.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
	if lastError.Valid {
		rec.LastError = lastError.String
	}
	if syncedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, syncedAt.String)
		if err == nil {
			rec.SyncedAt = &t
		}
	}
	if payload.Valid {
		rec.RawPayload = []byte(payload.String)
		decoded, err := DecodePayload(rec.EntityType, rec.Action, rec.RawPayload)
		if err != nil {
			return nil, &StorageError{Op: "decode stored payload", Err: err}
		}
		rec.Payload = decoded
	}

	return &rec, nil
}

// recoverInterrupted requeues mutations stranded IN_FLIGHT by a crash or
// power loss between dispatch and settlement. Each terminal owns its
// database exclusively, so any IN_FLIGHT row present at open time belongs
// to a cycle that never recorded its outcome. Such rows come back as FAILED
// with the retry counter bumped: the next push retries them, the server
// absorbs replays of changes it already applied, and a terminal dying
// repeatedly mid-push still reaches the retry ceiling instead of looping.
//
// Runs before the store is shared, so no lock is taken.
func (s *Store) recoverInterrupted() error {
	_, err := s.db.Exec(`
		UPDATE mutation_log
		SET status = 'FAILED', retry_count = retry_count + 1,
		    last_error = 'sync interrupted before the server result was recorded'
		WHERE status = 'IN_FLIGHT'
	`)
	if err != nil {
		return &StorageError{Op: "recover interrupted", Err: err}
	}
	return nil
}

// MarkInFlight transitions the given PENDING or FAILED mutations to
// IN_FLIGHT. Returns ErrInvalidTransition if any id is not in an eligible
// state, which indicates a second concurrent cycle upstream.
func (s *Store) MarkInFlight(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		UPDATE mutation_log SET status = 'IN_FLIGHT'
		WHERE id IN (%s) AND status IN ('PENDING', 'FAILED')
	`, strings.Join(placeholders, ","))

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return &StorageError{Op: "mark in-flight", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "mark in-flight", Err: err}
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("%w: %d of %d records were not PENDING/FAILED", ErrInvalidTransition, int64(len(ids))-affected, len(ids))
	}
	return nil
}

// MarkSynced transitions an IN_FLIGHT mutation to SYNCED and clears its
// last error. Returns ErrInvalidTransition if the record was not IN_FLIGHT.
func (s *Store) MarkSynced(id int64, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE mutation_log
		SET status = 'SYNCED', synced_at = ?, last_error = NULL
		WHERE id = ? AND status = 'IN_FLIGHT'
	`, syncedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return &StorageError{Op: "mark synced", Err: err}
	}
	return requireOneRow(res, id)
}

// MarkFailed transitions an IN_FLIGHT mutation to FAILED, records the
// failure reason and increments the retry count.
func (s *Store) MarkFailed(id int64, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE mutation_log
		SET status = 'FAILED', retry_count = retry_count + 1, last_error = ?
		WHERE id = ? AND status = 'IN_FLIGHT'
	`, cause, id)
	if err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "rows affected", Err: err}
	}
	if affected == 0 {
		return fmt.Errorf("%w: mutation %d was not IN_FLIGHT", ErrInvalidTransition, id)
	}
	return nil
}

// SweepSynced deletes SYNCED mutations older than the retention window.
// Idempotent and safe to run concurrently with enqueue.
func (s *Store) SweepSynced(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		DELETE FROM mutation_log WHERE status = 'SYNCED' AND synced_at < ?
	`, cutoff)
	if err != nil {
		return 0, &StorageError{Op: "sweep synced", Err: err}
	}
	return res.RowsAffected()
}

// Counts returns the mutation log tallies by status via the status index.
// NeedsAttention counts failures at or beyond the retry ceiling.
func (s *Store) Counts(maxRetries int) (QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return QueueCounts{}, ErrStoreClosed
	}

	var counts QueueCounts

	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM mutation_log
		WHERE status IN ('PENDING', 'IN_FLIGHT', 'FAILED')
		GROUP BY status
	`)
	if err != nil {
		return counts, &StorageError{Op: "count mutations", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, &StorageError{Op: "count mutations", Err: err}
		}
		switch MutationStatus(status) {
		case StatusPending:
			counts.Pending = n
		case StatusInFlight:
			counts.InFlight = n
		case StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, &StorageError{Op: "count mutations", Err: err}
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM mutation_log WHERE status = 'FAILED' AND retry_count >= ?
	`, maxRetries).Scan(&counts.NeedsAttention)
	if err != nil {
		return counts, &StorageError{Op: "count attention", Err: err}
	}

	return counts, nil
}
