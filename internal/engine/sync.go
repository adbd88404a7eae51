package engine

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"panorama-rulefinder/internal/metrics"
	"panorama-rulefinder/internal/model"
	"panorama-rulefinder/internal/panorama"
	"panorama-rulefinder/internal/parser"
)

// RuleFetcher returns the rule subtree of one device group.
type RuleFetcher interface {
	FetchRules(ctx context.Context, deviceGroup string) (*panorama.Response, error)
}

// RuleStore is the write side of the rule table.
type RuleStore interface {
	ResetSchema(ctx context.Context) error
	Sync(ctx context.Context, records []model.RuleRecord) (int, error)
}

// GroupResult is the outcome of one device group's pass.
type GroupResult struct {
	DeviceGroup string
	Written     int
	Skipped     int
	Err         error
}

// SyncSummary describes one full refresh.
type SyncSummary struct {
	RunID  string
	Groups []GroupResult
}

// Written is the number of rules stored across all device groups.
func (s *SyncSummary) Written() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Written
	}
	return n
}

// Syncer rebuilds the rule table from the management API.
type Syncer struct {
	fetcher RuleFetcher
	store   RuleStore
	// Strict fails a device group when any of its rules had to be skipped.
	Strict bool
}

func NewSyncer(fetcher RuleFetcher, store RuleStore) *Syncer {
	return &Syncer{fetcher: fetcher, store: store}
}

// Refresh recreates the rule table and syncs every device group in order.
// A failed group does not stop the others; the returned error lists every
// failed group. It must not run while searches read the table.
func (s *Syncer) Refresh(ctx context.Context, deviceGroups []string) (*SyncSummary, error) {
	summary := &SyncSummary{RunID: uuid.NewString()}
	logger := slog.With("run_id", summary.RunID)

	if len(deviceGroups) == 0 {
		return summary, errors.New("no device groups to sync")
	}

	logger.Info("Starting rule refresh", "device_groups", len(deviceGroups))
	if err := s.store.ResetSchema(ctx); err != nil {
		logger.Error("Failed to reset rule table", "error", err)
		return summary, err
	}

	var result *multierror.Error
	failed := 0
	for _, dg := range deviceGroups {
		group := s.SyncDeviceGroup(ctx, logger, dg)
		summary.Groups = append(summary.Groups, group)
		if group.Err != nil {
			result = multierror.Append(result, group.Err)
			failed++
		}
	}

	logger.Info("Rule refresh finished", "written", summary.Written(), "failed_groups", failed)
	return summary, result.ErrorOrNil()
}

// SyncDeviceGroup fetches, normalizes and stores one device group. Nothing
// is written for the group unless the fetch succeeded, and the store write
// is a single transaction.
func (s *Syncer) SyncDeviceGroup(ctx context.Context, logger *slog.Logger, deviceGroup string) GroupResult {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device_group", deviceGroup)
	group := GroupResult{DeviceGroup: deviceGroup}
	m := metrics.Get()

	fail := func(err error, msg string) GroupResult {
		group.Err = errors.Wrapf(err, "device group %s", deviceGroup)
		m.SyncRuns.WithLabelValues(deviceGroup, "error").Inc()
		logger.Error(msg, "error", err)
		return group
	}

	resp, err := s.fetcher.FetchRules(ctx, deviceGroup)
	if err != nil {
		return fail(err, "Failed to fetch rules")
	}

	records, err := parser.Normalize(resp, deviceGroup)
	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			group.Skipped = len(merr.Errors)
		}
		m.RulesSkipped.WithLabelValues(deviceGroup).Add(float64(group.Skipped))
		if s.Strict {
			return fail(err, "Rejecting device group with invalid rules")
		}
		logger.Warn("Skipped invalid rules", "skipped", group.Skipped, "error", err)
	}

	written, err := s.store.Sync(ctx, records)
	if err != nil {
		return fail(err, "Failed to store rules")
	}
	group.Written = written

	m.SyncRuns.WithLabelValues(deviceGroup, "ok").Inc()
	m.RulesSynced.WithLabelValues(deviceGroup).Set(float64(written))
	logger.Info("Device group synced", "written", written, "skipped", group.Skipped)
	return group
}
