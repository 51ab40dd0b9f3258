package brigade

import (
	"database/sql"
	"fmt"
	"time"
)

// Entity returns a single replica row, or ErrNotFound.
func (s *Store) Entity(entity EntityType, recordID string) (*ReplicaEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT entity_type, record_id, data, last_synced, sync_status
		FROM replica WHERE entity_type = ? AND record_id = ?
	`, string(entity), recordID)

	return scanReplica(row)
}

// Entities returns every replica row of one entity type, ordered by record id.
func (s *Store) Entities(entity EntityType) ([]ReplicaEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT entity_type, record_id, data, last_synced, sync_status
		FROM replica WHERE entity_type = ? ORDER BY record_id
	`, string(entity))
	if err != nil {
		return nil, &StorageError{Op: "query replica", Err: err}
	}
	defer rows.Close()

	var results []ReplicaEntity
	for rows.Next() {
		rec, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

// PendingEntities returns the replica rows with local unsynced edits.
func (s *Store) PendingEntities() ([]ReplicaEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT entity_type, record_id, data, last_synced, sync_status
		FROM replica WHERE sync_status = 'pending' ORDER BY entity_type, record_id
	`)
	if err != nil {
		return nil, &StorageError{Op: "query pending replica", Err: err}
	}
	defer rows.Close()

	var results []ReplicaEntity
	for rows.Next() {
		rec, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

func scanReplica(sc scanner) (*ReplicaEntity, error) {
	var (
		rec        ReplicaEntity
		entity     string
		data       string
		lastSynced sql.NullString
		syncStatus string
	)

	err := sc.Scan(&entity, &rec.RecordID, &data, &lastSynced, &syncStatus)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "scan replica", Err: err}
	}

	rec.EntityType = EntityType(entity)
	rec.Data = []byte(data)
	rec.SyncStatus = SyncState(syncStatus)
	if lastSynced.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastSynced.String); err == nil {
			rec.LastSynced = &t
		}
	}
	return &rec, nil
}

// ApplyServerEntity upserts a server-authoritative copy of one entity into
// the replica. Rows with sync_status 'pending' are left untouched so an
// unsynced local edit is never clobbered by a pull. Returns true if the row
// was written, false if it was preserved.
func (s *Store) ApplyServerEntity(entity EntityType, recordID string, data []byte, syncedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	res, err := s.db.Exec(`
		INSERT INTO replica (entity_type, record_id, data, last_synced, sync_status)
		VALUES (?, ?, ?, ?, 'synced')
		ON CONFLICT (entity_type, record_id) DO UPDATE SET
			data = excluded.data,
			last_synced = excluded.last_synced,
			sync_status = 'synced'
		WHERE replica.sync_status != 'pending'
	`, string(entity), recordID, string(data), syncedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, &StorageError{Op: "apply server entity", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "apply server entity", Err: err}
	}
	return affected > 0, nil
}

// ConfirmSynced flips a replica row to 'synced' after its mutation was
// accepted by the server. When the server assigned a permanent id the row is
// rekeyed from the temporary client id in the same transaction; any stale
// server-side copy already pulled under the new id is replaced.
func (s *Store) ConfirmSynced(entity EntityType, recordID, newID string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stamp := syncedAt.UTC().Format(time.RFC3339Nano)

	if newID == "" || newID == recordID {
		_, err := s.db.Exec(`
			UPDATE replica SET sync_status = 'synced', last_synced = ?
			WHERE entity_type = ? AND record_id = ?
		`, stamp, string(entity), recordID)
		if err != nil {
			return &StorageError{Op: "confirm synced", Err: err}
		}
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &StorageError{Op: "confirm synced: begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM replica WHERE entity_type = ? AND record_id = ?`,
		string(entity), newID); err != nil {
		return &StorageError{Op: "confirm synced: clear target", Err: err}
	}
	if _, err := tx.Exec(`
		UPDATE replica SET record_id = ?, sync_status = 'synced', last_synced = ?
		WHERE entity_type = ? AND record_id = ?
	`, newID, stamp, string(entity), recordID); err != nil {
		return &StorageError{Op: "confirm synced: rekey", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "confirm synced: commit", Err: err}
	}
	return nil
}

// DeleteEntity removes a replica row. Missing rows are not an error; a
// delete that raced a server-side removal has already converged.
func (s *Store) DeleteEntity(entity EntityType, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`DELETE FROM replica WHERE entity_type = ? AND record_id = ?`,
		string(entity), recordID)
	if err != nil {
		return &StorageError{Op: "delete entity", Err: err}
	}
	return nil
}

// PruneAbsent removes synced replica rows of one entity type whose ids are
// not in keep. Pending rows survive; they represent local creates the
// server has not seen yet. Used after a full-collection pull.
func (s *Store) PruneAbsent(entity EntityType, keep map[string]bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT record_id FROM replica WHERE entity_type = ? AND sync_status = 'synced'
	`, string(entity))
	if err != nil {
		return 0, &StorageError{Op: "prune absent: list", Err: err}
	}

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, &StorageError{Op: "prune absent: scan", Err: err}
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, &StorageError{Op: "prune absent: list", Err: err}
	}
	rows.Close()

	var pruned int64
	for _, id := range stale {
		res, err := s.db.Exec(`
			DELETE FROM replica WHERE entity_type = ? AND record_id = ? AND sync_status = 'synced'
		`, string(entity), id)
		if err != nil {
			return pruned, &StorageError{Op: fmt.Sprintf("prune absent: delete %s", id), Err: err}
		}
		n, _ := res.RowsAffected()
		pruned += n
	}
	return pruned, nil
}
