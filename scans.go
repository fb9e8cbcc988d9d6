package nfi

import (
	"context"
	"time"

	"github.com/nfi/pkg/diff"
	"github.com/nfi/pkg/task"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ScanTask is the handle of a running scan. Its result is the stored
// snapshot.
type ScanTask = task.Task[*Snapshot]

// Scan starts collecting the host in the background. Every attempt, failed
// or not, is stored as a new snapshot.
func (s *Service) Scan(hostID uint) (*ScanTask, error) {
	host, err := s.repos.hosts.getHost(hostID)
	if err != nil {
		return nil, err
	}
	target := host.target()

	t := s.tasks.Submit(func(ctx context.Context) (*Snapshot, error) {
		out := s.scanner.Execute(ctx, target)

		snap, err := newSnapshot(hostID, out)
		if err != nil {
			return nil, err
		}
		if err := s.repos.snapshots.addSnapshot(snap); err != nil {
			return nil, errors.Wrapf(err, "failed to store scan of host %d", hostID)
		}

		ev := log.Info()
		if !out.Succeeded() {
			ev = log.Warn()
			if out.Failure != nil {
				ev = ev.Str("kind", string(out.Failure.Kind))
			}
		}
		ev.Uint("host", hostID).Uint("scan", snap.ID).Str("status", string(snap.Status)).Msg("scan stored")
		return snap, nil
	})

	log.Debug().Uint("host", hostID).Str("task", t.ID).Msg("scan submitted")
	return t, nil
}

// Task returns a scan submitted by this process, if still remembered.
func (s *Service) Task(id string) (*ScanTask, bool) {
	return s.tasks.Get(id)
}

// ListScans returns the snapshots of a host, newest first.
func (s *Service) ListScans(hostID uint) ([]*Snapshot, error) {
	if _, err := s.repos.hosts.getHost(hostID); err != nil {
		return nil, err
	}
	return s.repos.snapshots.listSnapshots(hostID)
}

func (s *Service) GetScan(id uint) (*Snapshot, error) {
	return s.repos.snapshots.getSnapshot(id)
}

type DiffReport struct {
	HasPrevious       bool        `json:"has_previous"`
	PreviousScanID    *uint       `json:"previous_scan_id,omitempty"`
	PreviousTimestamp *time.Time  `json:"previous_timestamp,omitempty"`
	Diff              diff.Result `json:"diff"`
}

// Diff compares a snapshot with the newest successful snapshot of the same
// host taken before it. Failed snapshots never take part in a comparison.
func (s *Service) Diff(scanID uint) (*DiffReport, error) {
	current, err := s.repos.snapshots.getSnapshot(scanID)
	if err != nil {
		return nil, err
	}

	previous, err := s.repos.snapshots.previousSuccessful(current.HostID, current.ID)
	if err != nil {
		return nil, err
	}

	report := &DiffReport{Diff: diff.Result{Fields: map[string]diff.Delta{}}}
	if previous == nil {
		return report, nil
	}

	report.HasPrevious = true
	report.PreviousScanID = &previous.ID
	report.PreviousTimestamp = &previous.CreatedAt

	if current.Succeeded() {
		report.Diff = diff.Bytes(previous.Data, current.Data)
	}
	return report, nil
}
