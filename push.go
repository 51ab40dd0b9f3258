package brigade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperengineering/brigade/internal/api"
)

// Syncer reconciles the local store with the central server: Push drains
// the mutation log outward, Pull brings the authoritative state back.
type Syncer struct {
	store    *Store
	client   api.Client
	cfg      Config
	clock    Clock
	log      *logrus.Entry
	debug    *DebugLogger
	metrics  *Metrics
	settings *SettingsCache
}

// NewSyncer wires a syncer over the store and API client. client may be nil
// for offline-only mode; metrics and settings may be nil.
func NewSyncer(store *Store, client api.Client, cfg Config, clock Clock, log *logrus.Entry, debug *DebugLogger, metrics *Metrics, settings *SettingsCache) *Syncer {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Syncer{
		store:    store,
		client:   client,
		cfg:      cfg,
		clock:    clock,
		log:      log,
		debug:    debug,
		metrics:  metrics,
		settings: settings,
	}
}

// Health checks connectivity to the sync server.
func (s *Syncer) Health(ctx context.Context) error {
	if s.client == nil {
		return ErrOffline
	}
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if _, err := s.client.Health(reqCtx); err != nil {
		return wrapAPIError("health", err)
	}
	return nil
}

func wrapAPIError(op string, err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return &SyncError{Operation: op, StatusCode: apiErr.StatusCode, Err: apiErr.Err}
	}
	return &SyncError{Operation: op, Err: err}
}

// Push drains the retryable mutations and transmits them as one batch.
//
// Stock transaction CREATEs whose referenceId matches an order CREATE in
// the same batch are withheld from the wire: the server's order creation
// performs that deduction itself. A withheld transaction is settled only
// after the response arrives. If its order synced, it is marked SYNCED with
// a skip note; if the order failed, it stays PENDING so the deduction is
// not lost.
func (s *Syncer) Push(ctx context.Context) (*PushReport, error) {
	if s.client == nil {
		return nil, ErrOffline
	}

	batch, err := s.store.DrainRetryable(s.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return &PushReport{}, nil
	}

	resolution := ResolveIdempotency(batch)
	s.debug.LogSync("push", fmt.Sprintf("draining %d mutations, sending %d, withholding %d",
		len(batch), len(resolution.Send), len(resolution.Skips)))

	report := &PushReport{}
	if len(resolution.Send) == 0 {
		// Nothing to transmit; the withheld transactions have no order
		// outcome to settle against, so they stay queued untouched.
		return report, nil
	}

	ids := make([]int64, len(resolution.Send))
	changes := make([]api.ChangeEnvelope, len(resolution.Send))
	for i, rec := range resolution.Send {
		ids[i] = rec.ID
		changes[i] = api.ChangeEnvelope{
			Table:    string(rec.EntityType),
			Action:   string(rec.Action),
			RecordID: rec.RecordID,
			Data:     rec.RawPayload,
		}
	}

	if err := s.store.MarkInFlight(ids); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.client.Push(reqCtx, s.cfg.TenantID, &api.PushRequest{
		SourceID: s.cfg.SourceID,
		Changes:  changes,
	})
	if err != nil {
		// Transport failure: every transmitted record goes back through
		// FAILED so the retry ceiling still applies. Withheld transactions
		// were never marked in-flight and stay PENDING.
		cause := err.Error()
		for _, id := range ids {
			if markErr := s.store.MarkFailed(id, cause); markErr != nil {
				s.log.WithError(markErr).WithField("mutation_id", id).Warn("could not mark mutation failed")
			}
		}
		s.debug.LogError("push", err)
		return nil, wrapAPIError("push", err)
	}

	now := s.clock.Now()
	outcomes := indexResults(resp)

	orderOutcome := make(map[string]ResultStatus)
	rekeyed := make(map[string]string)
	for _, rec := range resolution.Send {
		key := resultKey(string(rec.EntityType), rec.RecordID)
		result, ok := takeResult(outcomes, key)
		if !ok {
			// The server did not report on this record; treat as a
			// retryable failure rather than guessing it was applied.
			if err := s.store.MarkFailed(rec.ID, "no result returned by server"); err != nil {
				s.log.WithError(err).WithField("mutation_id", rec.ID).Warn("could not mark mutation failed")
			}
			report.Failed++
			report.Results = append(report.Results, SyncBatchResult{
				RecordID: rec.RecordID,
				Table:    rec.EntityType,
				Status:   ResultError,
				Error:    "no result returned by server",
			})
			continue
		}

		if rec.EntityType == EntityOrders && rec.Action == ActionCreate {
			orderOutcome[rec.RecordID] = ResultStatus(result.Status)
		}

		switch ResultStatus(result.Status) {
		case ResultSuccess, ResultSkipped:
			// A later mutation for a record rekeyed earlier in this batch
			// settles against the row under its reassigned id.
			replicaID := rec.RecordID
			if mapped, ok := rekeyed[key]; ok {
				replicaID = mapped
			}
			if err := s.confirmRecord(rec, replicaID, result.NewID, now); err != nil {
				s.log.WithError(err).WithField("record_id", rec.RecordID).Error("could not confirm synced mutation")
				report.Failed++
				continue
			}
			if result.NewID != "" && result.NewID != rec.RecordID {
				rekeyed[key] = result.NewID
			}
			if ResultStatus(result.Status) == ResultSkipped {
				report.Skipped++
			} else {
				report.Synced++
			}
		default:
			cause := result.Error
			if cause == "" {
				cause = "server rejected change"
			}
			if err := s.store.MarkFailed(rec.ID, cause); err != nil {
				s.log.WithError(err).WithField("mutation_id", rec.ID).Warn("could not mark mutation failed")
			}
			report.Failed++
		}

		report.Results = append(report.Results, SyncBatchResult{
			RecordID: rec.RecordID,
			Table:    rec.EntityType,
			Status:   ResultStatus(result.Status),
			NewID:    result.NewID,
			Error:    result.Error,
			Message:  result.Message,
		})
	}

	// Settle the withheld stock transactions against their orders' actual
	// outcomes.
	for _, skip := range resolution.Skips {
		if orderOutcome[skip.OrderRecordID] == ResultSuccess {
			if err := s.store.MarkInFlight([]int64{skip.Record.ID}); err != nil {
				s.log.WithError(err).WithField("mutation_id", skip.Record.ID).Warn("could not settle withheld transaction")
				continue
			}
			if err := s.confirmRecord(skip.Record, skip.Record.RecordID, "", now); err != nil {
				s.log.WithError(err).WithField("mutation_id", skip.Record.ID).Warn("could not settle withheld transaction")
				continue
			}
			report.Skipped++
			report.Results = append(report.Results, SyncBatchResult{
				RecordID: skip.Record.RecordID,
				Table:    skip.Record.EntityType,
				Status:   ResultSkipped,
				Message:  SkipReasonOrderDeduction,
			})
		} else {
			// Order did not make it; the transaction stays PENDING and
			// will be re-resolved on the next push.
			s.log.WithFields(logrus.Fields{
				"record_id": skip.Record.RecordID,
				"order_id":  skip.OrderRecordID,
			}).Info("order not synced, keeping withheld stock transaction queued")
		}
	}

	s.metrics.RecordOutcome(ResultSuccess, report.Synced)
	s.metrics.RecordOutcome(ResultSkipped, report.Skipped)
	s.metrics.RecordOutcome(ResultError, report.Failed)

	s.log.WithFields(logrus.Fields{
		"synced":  report.Synced,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("push complete")

	return report, nil
}

// confirmRecord marks the mutation SYNCED and updates the replica row at
// replicaID, rekeying it when the server assigned a permanent id.
func (s *Syncer) confirmRecord(rec MutationRecord, replicaID, newID string, now time.Time) error {
	if err := s.store.MarkSynced(rec.ID, now); err != nil {
		return err
	}
	if rec.Action == ActionDelete {
		// The replica row was already removed at enqueue time.
		return nil
	}
	if err := s.store.ConfirmSynced(rec.EntityType, replicaID, newID, now); err != nil {
		return err
	}
	if rec.EntityType == EntitySettings && s.settings != nil {
		s.settings.Invalidate()
	}
	return nil
}

func resultKey(table, recordID string) string { return table + "\x00" + recordID }

// indexResults groups server results by record, preserving order within
// each group. One batch may carry several mutations for the same record
// (an offline CREATE followed by an UPDATE is routine) and the server
// reports them in dispatch order.
func indexResults(resp *api.PushResponse) map[string][]api.BatchResult {
	outcomes := make(map[string][]api.BatchResult, len(resp.Results))
	for _, r := range resp.Results {
		key := resultKey(r.Table, r.RecordID)
		outcomes[key] = append(outcomes[key], r)
	}
	// Batch-level errors stand in for records with no result at all.
	for _, e := range resp.Errors {
		key := resultKey(e.Table, e.RecordID)
		if len(outcomes[key]) == 0 {
			outcomes[key] = append(outcomes[key], api.BatchResult{
				RecordID: e.RecordID,
				Table:    e.Table,
				Status:   string(ResultError),
				Error:    e.Error,
			})
		}
	}
	return outcomes
}

// takeResult consumes the next result for a record so each mutation
// settles against its own outcome.
func takeResult(outcomes map[string][]api.BatchResult, key string) (api.BatchResult, bool) {
	queue := outcomes[key]
	if len(queue) == 0 {
		return api.BatchResult{}, false
	}
	outcomes[key] = queue[1:]
	return queue[0], true
}
