package nfi

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Loader opens the service on first use. Commands are built before flags are
// parsed, so they cannot receive the service directly.
type Loader func() (*Service, error)

func Commands(load Loader) []*cobra.Command {
	return []*cobra.Command{
		// host inventory
		hostsCommand(load),
		// scanning and history
		scanCommand(load),
		scansCommand(load),
		diffCommand(load),
		searchCommand(load),
	}
}

type hostView struct {
	ID          uint      `json:"id"`
	Hostname    string    `json:"hostname"`
	Address     string    `json:"ip_address"`
	SSHUser     string    `json:"ssh_user"`
	HasPassword bool      `json:"has_password"`
	HasKey      bool      `json:"has_key"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewHost(h *Host) hostView {
	return hostView{
		ID:          h.ID,
		Hostname:    h.Hostname,
		Address:     h.Address,
		SSHUser:     h.SSHUser,
		HasPassword: h.SSHPassword != "",
		HasKey:      h.SSHKey != "",
		CreatedAt:   h.CreatedAt,
	}
}

type scanView struct {
	ID        uint            `json:"id"`
	HostID    uint            `json:"host_id"`
	Timestamp time.Time       `json:"timestamp"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func viewScan(s *Snapshot, withData bool) scanView {
	v := scanView{
		ID:        s.ID,
		HostID:    s.HostID,
		Timestamp: s.CreatedAt,
		Status:    string(s.Status),
	}
	if withData {
		v.Data = json.RawMessage(s.Data)
	}
	return v
}

func render(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to render output")
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 0)
	if err != nil {
		return 0, errors.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}

type HostFlags struct {
	Hostname string
	Address  string
	User     string
	Password string
	KeyFile  string
}

func readKey(fpath string) (string, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read key file %s", fpath)
	}
	return string(data), nil
}

func hostsCommand(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hosts",
		Short:   "Manage the host inventory",
		GroupID: "inventory",
	}
	cmd.AddCommand(
		hostsAddCommand(load),
		hostsListCommand(load),
		hostsUpdateCommand(load),
		hostsDeleteCommand(load),
	)
	return cmd
}

func hostsAddCommand(load Loader) *cobra.Command {
	var f HostFlags

	cmd := &cobra.Command{
		Use:   "add --hostname name --address addr --user user [--password pass] [--key-file path]",
		Short: "Register a host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := load()
			if err != nil {
				return err
			}

			spec := HostSpec{
				Hostname: f.Hostname,
				Address:  f.Address,
				SSHUser:  f.User,
				Password: f.Password,
			}
			if f.KeyFile != "" {
				if spec.PrivateKey, err = readKey(f.KeyFile); err != nil {
					return err
				}
			}

			h, err := svc.AddHost(spec)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), viewHost(h))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.Hostname, "hostname", "", "Host name, also used as inventory name")
	flags.StringVar(&f.Address, "address", "", "IPv4 address or DNS name")
	flags.StringVarP(&f.User, "user", "u", "", "SSH user")
	flags.StringVar(&f.Password, "password", "", "SSH password")
	flags.StringVar(&f.KeyFile, "key-file", "", "Path to the SSH private key")
	_ = cmd.MarkFlagRequired("hostname")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func hostsListCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered hosts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := load()
			if err != nil {
				return err
			}

			hosts, err := svc.ListHosts()
			if err != nil {
				return err
			}
			views := make([]hostView, 0, len(hosts))
			for _, h := range hosts {
				views = append(views, viewHost(h))
			}
			return render(cmd.OutOrStdout(), views)
		},
	}
}

func hostsUpdateCommand(load Loader) *cobra.Command {
	var f HostFlags

	cmd := &cobra.Command{
		Use:   "update host-id [--hostname name] [--address addr] [--user user] [--password pass] [--key-file path]",
		Short: "Change a registered host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := load()
			if err != nil {
				return err
			}

			var u HostUpdate
			flags := cmd.Flags()
			if flags.Changed("hostname") {
				u.Hostname = &f.Hostname
			}
			if flags.Changed("address") {
				u.Address = &f.Address
			}
			if flags.Changed("user") {
				u.SSHUser = &f.User
			}
			if flags.Changed("password") {
				u.Password = &f.Password
			}
			if flags.Changed("key-file") {
				key := ""
				if f.KeyFile != "" {
					if key, err = readKey(f.KeyFile); err != nil {
						return err
					}
				}
				u.PrivateKey = &key
			}

			h, err := svc.UpdateHost(id, u)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), viewHost(h))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.Hostname, "hostname", "", "Host name")
	flags.StringVar(&f.Address, "address", "", "IPv4 address or DNS name")
	flags.StringVarP(&f.User, "user", "u", "", "SSH user")
	flags.StringVar(&f.Password, "password", "", "SSH password. Empty removes it")
	flags.StringVar(&f.KeyFile, "key-file", "", "Path to the SSH private key. Empty removes it")

	return cmd
}

func hostsDeleteCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:     "delete host-id",
		Aliases: []string{"rm"},
		Short:   "Remove a host and all of its scans",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := load()
			if err != nil {
				return err
			}
			return svc.DeleteHost(id)
		},
	}
}

func scanCommand(load Loader) *cobra.Command {
	var withData bool

	cmd := &cobra.Command{
		Use:     "scan host-id [--data]",
		Short:   "Collect a forensic inventory of a host",
		GroupID: "scans",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := load()
			if err != nil {
				return err
			}

			t, err := svc.Scan(id)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			snap, err := t.Wait(ctx)
			if err != nil {
				return errors.Wrapf(err, "scan %s failed", t.ID)
			}
			return render(cmd.OutOrStdout(), viewScan(snap, withData))
		},
	}

	cmd.Flags().BoolVar(&withData, "data", false, "Print the collected document")
	return cmd
}

func scansCommand(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scans",
		Short:   "Browse stored scans",
		GroupID: "scans",
	}

	list := &cobra.Command{
		Use:   "list host-id",
		Short: "List the scans of a host, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := load()
			if err != nil {
				return err
			}

			snaps, err := svc.ListScans(id)
			if err != nil {
				return err
			}
			views := make([]scanView, 0, len(snaps))
			for _, s := range snaps {
				views = append(views, viewScan(s, false))
			}
			return render(cmd.OutOrStdout(), views)
		},
	}

	show := &cobra.Command{
		Use:   "show scan-id",
		Short: "Print a stored scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := load()
			if err != nil {
				return err
			}

			snap, err := svc.GetScan(id)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), viewScan(snap, true))
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func diffCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:     "diff scan-id",
		Short:   "Compare a scan with the previous successful scan of its host",
		GroupID: "scans",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := load()
			if err != nil {
				return err
			}

			report, err := svc.Diff(id)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), report)
		},
	}
}

func searchCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:     "search query",
		Short:   "Search hosts and scan contents",
		GroupID: "scans",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := load()
			if err != nil {
				return err
			}

			results, err := svc.Search(args[0])
			if err != nil {
				return err
			}
			if results == nil {
				results = []SearchResult{}
			}
			return render(cmd.OutOrStdout(), results)
		},
	}
}
