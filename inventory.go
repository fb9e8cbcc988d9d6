package nfi

import (
	"github.com/pkg/errors"
)

// HostSpec is the operator input for a host. Secrets arrive in clear text
// and are encrypted before they reach the store.
type HostSpec struct {
	Hostname   string
	Address    string
	SSHUser    string
	Password   string
	PrivateKey string
}

// HostUpdate changes only the fields that are set.
type HostUpdate struct {
	Hostname   *string
	Address    *string
	SSHUser    *string
	Password   *string
	PrivateKey *string
}

func (s *Service) seal(plaintext string) (string, error) {
	sealed, err := s.vault.Encrypt(plaintext)
	if err != nil {
		return "", errors.Wrap(err, "failed to encrypt credentials")
	}
	return sealed, nil
}

func (s *Service) AddHost(spec HostSpec) (*Host, error) {
	h := &Host{
		Hostname: spec.Hostname,
		Address:  spec.Address,
		SSHUser:  spec.SSHUser,
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	var err error
	if h.SSHPassword, err = s.seal(spec.Password); err != nil {
		return nil, err
	}
	if h.SSHKey, err = s.seal(spec.PrivateKey); err != nil {
		return nil, err
	}

	if err := s.repos.hosts.addHost(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) GetHost(id uint) (*Host, error) {
	return s.repos.hosts.getHost(id)
}

func (s *Service) ListHosts() ([]*Host, error) {
	return s.repos.hosts.listHosts()
}

func (s *Service) UpdateHost(id uint, u HostUpdate) (*Host, error) {
	cached, err := s.repos.hosts.getHost(id)
	if err != nil {
		return nil, err
	}
	// the cached host is shared with concurrent readers
	h := *cached

	if u.Hostname != nil {
		h.Hostname = *u.Hostname
	}
	if u.Address != nil {
		h.Address = *u.Address
	}
	if u.SSHUser != nil {
		h.SSHUser = *u.SSHUser
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	if u.Password != nil {
		if h.SSHPassword, err = s.seal(*u.Password); err != nil {
			return nil, err
		}
	}
	if u.PrivateKey != nil {
		if h.SSHKey, err = s.seal(*u.PrivateKey); err != nil {
			return nil, err
		}
	}

	if err := s.repos.hosts.updateHost(&h); err != nil {
		return nil, err
	}
	return &h, nil
}

// DeleteHost removes the host and every snapshot taken of it.
func (s *Service) DeleteHost(id uint) error {
	return s.repos.hosts.deleteHost(id)
}
