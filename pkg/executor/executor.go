// Package executor drives the external inventory collector against a single
// host and turns whatever happens into an Outcome.
//
// Every scan gets its own scratch directory holding the inventory, the private
// key (if any) and the report written by the collector. The directory is
// removed when the scan ends, whatever the result.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBinary  = "ansible-playbook"
	DefaultTimeout = 600 * time.Second
	PlaybookName   = "inventory_report.yml"

	// Mask replaces the SSH password in captured output.
	Mask = "********"

	reportSuffix  = ".report.json"
	inventoryFile = "inventory.yml"
	keyFile       = "id_rsa"
	scratchPrefix = "nfi-scan-"
)

// Decrypter opens secrets stored with the host.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Target is what the executor needs to know about a host. Password and
// PrivateKey are stored ciphertexts.
type Target struct {
	Name       string
	Address    string
	User       string
	Password   string
	PrivateKey string
}

type Config struct {
	// Collector binary
	Binary string
	// Candidate locations of the playbook, probed in order
	Playbooks []string
	// Hard limit for one collector run
	Timeout time.Duration
	// Where scratch directories are created. Empty means the OS default.
	ScratchDir string
}

// DefaultPlaybooks lists the working directory, its parent, the container
// deployment path and the directory above the installed binary.
func DefaultPlaybooks() []string {
	paths := []string{
		PlaybookName,
		filepath.Join("..", PlaybookName),
		filepath.Join("/app", PlaybookName),
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(filepath.Dir(exe)), PlaybookName))
	}
	return paths
}

func DefaultConfig() Config {
	return Config{
		Binary:    DefaultBinary,
		Playbooks: DefaultPlaybooks(),
		Timeout:   DefaultTimeout,
	}
}

type Option func(*Executor)

// WithFs replaces the filesystem used for scratch files and playbook lookup.
func WithFs(fs afero.Fs) Option {
	return func(e *Executor) { e.fs = fs }
}

func WithRunner(run Runner) Option {
	return func(e *Executor) { e.run = run }
}

type Executor struct {
	conf    Config
	secrets Decrypter
	fs      afero.Fs
	run     Runner
}

func New(conf Config, secrets Decrypter, opts ...Option) *Executor {
	if conf.Binary == "" {
		conf.Binary = DefaultBinary
	}
	if len(conf.Playbooks) == 0 {
		conf.Playbooks = DefaultPlaybooks()
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}

	e := &Executor{
		conf:    conf,
		secrets: secrets,
		fs:      afero.NewOsFs(),
		run:     defaultRunner,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolvePlaybook returns the first candidate that exists. It only stats
// paths.
func (e *Executor) ResolvePlaybook() (string, error) {
	for _, p := range e.conf.Playbooks {
		if _, err := e.fs.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("playbook not found in any of %v", e.conf.Playbooks)
}

// Execute runs one scan. It always returns an Outcome; errors and panics are
// classified as failures.
func (e *Executor) Execute(ctx context.Context, target Target) (out Outcome) {
	if target.Name == "" {
		target.Name = target.Address
	}
	logger := log.With().Str("host", target.Name).Str("address", target.Address).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("scan aborted")
			out = unexpected(fmt.Errorf("panic: %v", r))
		}
	}()

	dir, err := afero.TempDir(e.fs, e.conf.ScratchDir, scratchPrefix)
	if err != nil {
		return unexpected(fmt.Errorf("failed to create scratch directory: %w", err))
	}
	defer func() {
		if err := e.fs.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove scratch directory")
		}
	}()

	s := &scan{
		Executor: e,
		target:   target,
		dir:      dir,
		logger:   logger,
	}
	return s.execute(ctx)
}

// scan holds the state of a single Execute call.
type scan struct {
	*Executor
	target   Target
	dir      string
	password string
	logger   zerolog.Logger
}

func (s *scan) execute(ctx context.Context) Outcome {
	vars, err := s.hostVars()
	if err != nil {
		return unexpected(err)
	}

	inventory, err := s.writeInventory(vars)
	if err != nil {
		return unexpected(err)
	}

	playbook, err := s.ResolvePlaybook()
	if err != nil {
		return unexpected(err)
	}

	argv := []string{
		s.conf.Binary,
		"-i", inventory,
		playbook,
		"-e", "report_dir=" + s.dir,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.conf.Timeout)
	defer cancel()

	s.logger.Info().Str("playbook", playbook).Dur("timeout", s.conf.Timeout).Msg("starting collector")
	started := time.Now()
	res, err := s.run(runCtx, argv)
	s.logger.Info().Dur("elapsed", time.Since(started)).Int("exit_code", res.ExitCode).Msg("collector finished")

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fail(Failure{
			Kind:   KindTimeout,
			Reason: ReasonTimeout,
			Error:  fmt.Sprintf("Scan timed out after %s", s.conf.Timeout),
			Stdout: s.sanitize(res.Stdout),
			Stderr: s.sanitize(res.Stderr),
		})
	}
	if err != nil {
		return unexpected(fmt.Errorf("failed to run collector: %w", err))
	}

	if res.ExitCode != 0 {
		return fail(Failure{
			Kind:   KindExecutionFailed,
			Reason: ReasonExecutionFailed,
			Error:  fmt.Sprintf("Collector execution failed with exit code %d", res.ExitCode),
			Stdout: s.sanitize(res.Stdout),
			Stderr: s.sanitize(res.Stderr),
		})
	}

	report, err := s.findReport()
	if err != nil {
		return unexpected(err)
	}
	if report == "" {
		return fail(Failure{
			Kind:   KindReportMissing,
			Reason: ReasonReportMissing,
			Error:  "Report file not found",
			Stdout: s.sanitize(res.Stdout),
		})
	}

	doc, err := s.readReport(report)
	if err != nil {
		return fail(Failure{
			Kind:   KindReportUnparseable,
			Reason: ReasonUnexpected,
			Error:  fmt.Sprintf("Unexpected error: %v", err),
			Detail: err.Error(),
		})
	}
	return success(doc)
}

// hostVars builds the ansible connection variables, decrypting the secrets
// and writing the private key into the scratch directory.
func (s *scan) hostVars() (map[string]string, error) {
	vars := map[string]string{
		"ansible_host":            s.target.Address,
		"ansible_user":            s.target.User,
		"ansible_ssh_common_args": "-o StrictHostKeyChecking=no",
	}

	if s.target.Password != "" {
		password, err := s.secrets.Decrypt(s.target.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt ssh password: %w", err)
		}
		s.password = password
		vars["ansible_password"] = password
	}

	if s.target.PrivateKey != "" {
		key, err := s.secrets.Decrypt(s.target.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt ssh key: %w", err)
		}

		fpath := filepath.Join(s.dir, keyFile)
		if err := afero.WriteFile(s.fs, fpath, []byte(key), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write ssh key: %w", err)
		}
		// the umask may have widened the mode on creation
		if err := s.fs.Chmod(fpath, 0o600); err != nil {
			return nil, fmt.Errorf("failed to restrict ssh key: %w", err)
		}
		vars["ansible_ssh_private_key_file"] = fpath
	}
	return vars, nil
}

func (s *scan) writeInventory(vars map[string]string) (string, error) {
	inventory := map[string]any{
		"all": map[string]any{
			"hosts": map[string]any{
				s.target.Name: vars,
			},
		},
	}

	data, err := yaml.Marshal(inventory)
	if err != nil {
		return "", fmt.Errorf("failed to encode inventory: %w", err)
	}

	fpath := filepath.Join(s.dir, inventoryFile)
	if err := afero.WriteFile(s.fs, fpath, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write inventory: %w", err)
	}
	return fpath, nil
}

// findReport returns the report written by the collector, or "" if there is
// none.
func (s *scan) findReport() (string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to list scratch directory: %w", err)
	}

	var reports []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), reportSuffix) {
			continue
		}
		reports = append(reports, entry.Name())
	}

	switch len(reports) {
	case 0:
		return "", nil
	case 1:
	default:
		s.logger.Warn().Strs("reports", reports).Msg("collector wrote more than one report, using the first")
	}
	return filepath.Join(s.dir, reports[0]), nil
}

// readReport decodes the report. Collectors may key the document by the
// inventory host name; that wrapper is removed.
func (s *scan) readReport(fpath string) (map[string]any, error) {
	data, err := afero.ReadFile(s.fs, fpath)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", filepath.Base(fpath), err)
	}
	if doc == nil {
		return nil, fmt.Errorf("report %s is empty", filepath.Base(fpath))
	}

	if inner, ok := doc[s.target.Name].(map[string]any); ok {
		return inner, nil
	}
	return doc, nil
}

func (s *scan) sanitize(text string) string {
	if s.password == "" {
		return text
	}
	return strings.ReplaceAll(text, s.password, Mask)
}
