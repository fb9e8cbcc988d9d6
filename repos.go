package nfi

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nfi/pkg/database"
	"github.com/nfi/pkg/executor"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Repository interface {
	WithTransaction(fn func(*gorm.DB) error) error
	Close() error
}

type repository struct {
	mu sync.Mutex
	db *gorm.DB

	conf database.Configuration
}

func newRepository(location string, models ...any) *repository {
	return &repository{
		conf: database.Configuration{
			Filepath: location,
			Config:   database.DefaultConfig(),
			Models:   models,
		},
	}
}

// WithTransaction runs fn in its own transaction. fn must only use the
// connection it receives.
func (r *repository) WithTransaction(fn func(conn *gorm.DB) error) error {
	db, err := r.connect()
	if err != nil {
		return err
	}
	return db.Transaction(fn)
}

func (r *repository) connect() (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return r.db, nil
	}

	db, err := database.Open(r.conf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	r.db = db
	return db, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	r.db = nil
	return sqlDB.Close()
}

const snippetRadius = 30

// snippet cuts the text around the first case-insensitive match of query.
func snippet(text, query string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if idx < 0 {
		return ""
	}
	// lowercasing may shift offsets of non-ASCII text
	idx = min(idx, len(text))

	start, end := max(idx-snippetRadius, 0), min(idx+len(query)+snippetRadius, len(text))
	s := text[start:end]
	if start > 0 {
		s = "..." + s
	}
	if end < len(text) {
		s += "..."
	}
	return s
}

// likePattern escapes LIKE wildcards in q.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

type hostRepo struct {
	Repository
	cache *expirable.LRU[uint, *Host]
}

func (r *hostRepo) addHost(h *Host) error {
	err := r.WithTransaction(func(conn *gorm.DB) error {
		if err := conn.Create(h).Error; err != nil {
			return errors.Wrap(err, "failed to create host")
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.cache.Add(h.ID, h)
	return nil
}

// returns a host by id
func (r *hostRepo) getHost(id uint) (*Host, error) {
	if host, ok := r.cache.Get(id); ok {
		return host, nil
	}

	h := new(Host)
	err := r.WithTransaction(func(conn *gorm.DB) error {
		err := conn.First(h, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrHostNotFound, "host %d", id)
		}
		return errors.Wrap(err, "failed to find host")
	})
	if err != nil {
		return nil, err
	}
	r.cache.Add(h.ID, h)
	return h, nil
}

func (r *hostRepo) listHosts() ([]*Host, error) {
	var hosts []*Host
	return hosts, r.WithTransaction(func(conn *gorm.DB) error {
		return errors.Wrap(conn.Order("id").Find(&hosts).Error, "failed to list hosts")
	})
}

func (r *hostRepo) updateHost(h *Host) error {
	err := r.WithTransaction(func(conn *gorm.DB) error {
		q := conn.Model(h).Select("Hostname", "Address", "SSHUser", "SSHPassword", "SSHKey").Updates(h)
		if err := q.Error; err != nil {
			return errors.Wrap(err, "failed to update host")
		}
		if q.RowsAffected == 0 {
			return errors.Wrapf(ErrHostNotFound, "host %d", h.ID)
		}
		return nil
	})
	if err != nil {
		r.cache.Remove(h.ID)
		return err
	}
	r.cache.Add(h.ID, h)
	return nil
}

// deleteHost removes the host for good. Its snapshots go with it.
func (r *hostRepo) deleteHost(id uint) error {
	r.cache.Remove(id)
	return r.WithTransaction(func(conn *gorm.DB) error {
		q := conn.Unscoped().Delete(&Host{}, id)
		if err := q.Error; err != nil {
			return errors.Wrap(err, "failed to delete host")
		}
		if q.RowsAffected == 0 {
			return errors.Wrapf(ErrHostNotFound, "host %d", id)
		}
		return nil
	})
}

func (r *hostRepo) searchHosts(query string) ([]*Host, error) {
	var hosts []*Host
	pattern := likePattern(query)
	return hosts, r.WithTransaction(func(conn *gorm.DB) error {
		q := conn.
			Where(`hostname LIKE ? ESCAPE '\' OR address LIKE ? ESCAPE '\'`, pattern, pattern).
			Order("id").
			Find(&hosts)
		return errors.Wrap(q.Error, "failed to search hosts")
	})
}

type snapshotRepo struct {
	Repository
}

func (r *snapshotRepo) addSnapshot(s *Snapshot) error {
	return r.WithTransaction(func(conn *gorm.DB) error {
		return errors.Wrap(conn.Create(s).Error, "failed to store snapshot")
	})
}

func (r *snapshotRepo) getSnapshot(id uint) (*Snapshot, error) {
	s := new(Snapshot)
	err := r.WithTransaction(func(conn *gorm.DB) error {
		err := conn.First(s, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrScanNotFound, "scan %d", id)
		}
		return errors.Wrap(err, "failed to find scan")
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newest first
func (r *snapshotRepo) listSnapshots(hostID uint) ([]*Snapshot, error) {
	var snaps []*Snapshot
	return snaps, r.WithTransaction(func(conn *gorm.DB) error {
		q := conn.Where("host_id = ?", hostID).Order("id DESC").Find(&snaps)
		return errors.Wrap(q.Error, "failed to list scans")
	})
}

// previousSuccessful returns the newest successful snapshot of the host older
// than the given one, or nil.
func (r *snapshotRepo) previousSuccessful(hostID, before uint) (*Snapshot, error) {
	var snaps []*Snapshot
	err := r.WithTransaction(func(conn *gorm.DB) error {
		q := conn.
			Where("host_id = ? AND id < ? AND status = ?", hostID, before, executor.StatusSuccess).
			Order("id DESC").
			Limit(1).
			Find(&snaps)
		return errors.Wrap(q.Error, "failed to find previous scan")
	})
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return snaps[0], nil
}

func (r *snapshotRepo) searchSnapshots(query string) ([]*Snapshot, error) {
	var snaps []*Snapshot
	return snaps, r.WithTransaction(func(conn *gorm.DB) error {
		q := conn.
			Where(`CAST(data AS TEXT) LIKE ? ESCAPE '\'`, likePattern(query)).
			Order("id DESC").
			Find(&snaps)
		return errors.Wrap(q.Error, "failed to search scans")
	})
}

type repositoryRegistry struct {
	repo      *repository
	hosts     *hostRepo
	snapshots *snapshotRepo
}

// newRepositoryRegistry shares a single store between the repositories so
// that deleting a host cascades to its snapshots.
func newRepositoryRegistry(location string) *repositoryRegistry {
	repo := newRepository(location, &Host{}, &Snapshot{})
	return &repositoryRegistry{
		repo: repo,
		hosts: &hostRepo{
			Repository: repo,
			cache:      expirable.NewLRU[uint, *Host](1e3, nil, 5*time.Minute),
		},
		snapshots: &snapshotRepo{Repository: repo},
	}
}

func (r *repositoryRegistry) Close() error {
	return r.repo.Close()
}
