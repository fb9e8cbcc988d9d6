package nfi

import (
	"net"
	"regexp"
	"strings"

	"github.com/nfi/pkg/executor"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrHostNotFound = errors.New("host not found")
	ErrScanNotFound = errors.New("scan not found")
	ErrInvalidHost  = errors.New("invalid host")
)

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

// A registered machine. Password and key hold vault ciphertexts and are
// never rendered.
type Host struct {
	gorm.Model

	Hostname    string `json:"hostname"`
	Address     string `json:"ip_address"`
	SSHUser     string `json:"ssh_user"`
	SSHPassword string `json:"-"`
	SSHKey      string `json:"-"`
}

// Validate checks the connection fields.
func (h *Host) Validate() error {
	switch {
	case strings.TrimSpace(h.Hostname) == "":
		return errors.Wrap(ErrInvalidHost, "hostname is required")
	case strings.TrimSpace(h.SSHUser) == "":
		return errors.Wrap(ErrInvalidHost, "ssh user is required")
	case !validAddress(h.Address):
		return errors.Wrapf(ErrInvalidHost, "invalid address %q", h.Address)
	}
	return nil
}

func validAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
		return true
	}
	return addressPattern.MatchString(addr)
}

func (h *Host) target() executor.Target {
	return executor.Target{
		Name:       h.Hostname,
		Address:    h.Address,
		User:       h.SSHUser,
		Password:   h.SSHPassword,
		PrivateKey: h.SSHKey,
	}
}

// One scan attempt. Data holds the forensic document on success and the
// failure payload otherwise. Snapshots are append-only.
type Snapshot struct {
	gorm.Model

	HostID uint            `json:"host_id" gorm:"index;not null"`
	Host   *Host           `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Status executor.Status `json:"status" gorm:"index"`
	Data   datatypes.JSON  `json:"data"`
}

func (s *Snapshot) Succeeded() bool {
	return s.Status == executor.StatusSuccess
}

func newSnapshot(hostID uint, out executor.Outcome) (*Snapshot, error) {
	data, err := out.Data()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode scan outcome")
	}
	status := out.Status
	if !out.Succeeded() {
		status = executor.StatusFailed
	}
	return &Snapshot{
		HostID: hostID,
		Status: status,
		Data:   datatypes.JSON(data),
	}, nil
}
