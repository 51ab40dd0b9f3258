package brigade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Pull fetches the full tenant snapshot and reconciles it into the replica.
//
// The server is authoritative, with one exception: rows carrying an
// unsynced local edit (sync_status 'pending') are preserved untouched and
// will be replayed by the next push. Each collection is applied
// independently; a malformed or failing collection is recorded in the
// report and never aborts its siblings.
func (s *Syncer) Pull(ctx context.Context) (*PullReport, error) {
	if s.client == nil {
		return nil, ErrOffline
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.client.Pull(reqCtx, s.cfg.TenantID)
	if err != nil {
		s.debug.LogError("pull", err)
		return nil, wrapAPIError("pull", err)
	}

	report := &PullReport{Timestamp: resp.Timestamp}
	if report.Timestamp.IsZero() {
		report.Timestamp = s.clock.Now()
	}

	// Collect the add-on group ids first so orphaned add-ons can be
	// filtered out of the snapshot before they reach the replica.
	groupIDs := make(map[string]bool)
	for _, raw := range resp.Data[string(EntityAddonGroups)] {
		if id := extractID(raw); id != "" {
			groupIDs[id] = true
		}
	}

	for _, entity := range ValidEntityTypes() {
		docs, ok := resp.Data[string(entity)]
		if !ok {
			continue
		}
		applied, preserved, err := s.applyCollection(entity, docs, groupIDs, report.Timestamp)
		report.Applied += applied
		report.Preserved += preserved
		if err != nil {
			s.log.WithError(err).WithField("collection", string(entity)).Warn("collection pull failed")
			report.PartialErrs = append(report.PartialErrs, fmt.Sprintf("%s: %v", entity, err))
			continue
		}
		report.Collections++
	}

	if err := s.store.SetLastSynced(report.Timestamp); err != nil {
		return report, err
	}
	if s.settings != nil {
		s.settings.Invalidate()
	}
	s.metrics.SetLastSynced(report.Timestamp.Unix())

	s.log.WithFields(logrus.Fields{
		"applied":     report.Applied,
		"preserved":   report.Preserved,
		"collections": report.Collections,
		"partial":     len(report.PartialErrs),
	}).Info("pull complete")

	return report, nil
}

// applyCollection reconciles one entity type from the snapshot. The
// snapshot is full, so synced rows absent from it are pruned afterwards.
func (s *Syncer) applyCollection(entity EntityType, docs []json.RawMessage, groupIDs map[string]bool, timestamp time.Time) (applied, preserved int, err error) {
	keep := make(map[string]bool, len(docs))

	for _, raw := range docs {
		id := extractID(raw)
		if id == "" && entity == EntitySettings {
			// The tenant profile is a singleton; some servers omit its id.
			id = SettingsRecordID
		}
		if id == "" {
			return applied, preserved, fmt.Errorf("document without id")
		}

		// An add-on whose group was deleted server-side is dropped with
		// its group rather than cached as an orphan.
		if entity == EntityAddons && !addonGroupAlive(raw, groupIDs) {
			continue
		}

		keep[id] = true
		wrote, err := s.store.ApplyServerEntity(entity, id, raw, timestamp)
		if err != nil {
			return applied, preserved, err
		}
		if wrote {
			applied++
		} else {
			preserved++
		}
	}

	if _, err := s.store.PruneAbsent(entity, keep); err != nil {
		return applied, preserved, err
	}
	return applied, preserved, nil
}

func addonGroupAlive(raw json.RawMessage, groupIDs map[string]bool) bool {
	var probe struct {
		GroupID string `json:"groupId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	if probe.GroupID == "" {
		return true
	}
	return groupIDs[probe.GroupID]
}

func extractID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
