package cmd

import (
	"os"
	"sync"
	"time"

	"github.com/nfi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const unset = "-"

type Flags struct {
	Paths    nfi.StandardPaths
	Config   string
	LogLevel string
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

// session opens the service once per process, after the flags are parsed.
type session struct {
	once   sync.Once
	conf   *nfi.Configuration
	svc    *nfi.Service
	err    error
	closed bool
}

func (s *session) load() (*nfi.Service, error) {
	s.once.Do(func() {
		if s.conf == nil {
			s.err = errors.New("configuration not loaded")
			return
		}
		s.svc, s.err = nfi.Open(s.conf)
	})
	return s.svc, s.err
}

func (s *session) close() {
	if s.svc == nil || s.closed {
		return
	}
	s.closed = true
	if err := s.svc.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close the store")
	}
}

// Program is the root command together with the store it opens lazily.
type Program struct {
	*cobra.Command
	sess *session
}

// Execute runs the command line and closes the store, whether or not the
// command succeeded.
func (p *Program) Execute() error {
	defer p.sess.close()
	return p.Command.Execute()
}

func Command() *Program {
	var (
		f    Flags
		sess = new(session)
	)

	com := &cobra.Command{
		Use:           "nfi",
		Short:         "Network forensic inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(f.LogLevel); err != nil {
				return err
			}
			// 1. bind the paths. Flags win over env, env over defaults.
			nfi.BindStandardPaths(&f.Paths)
			// 2. load and validate the settings
			conf, err := nfi.LoadSettings(f.Config, &f.Paths)
			if err != nil {
				return err
			}
			sess.conf = conf
			return nil
		},
	}

	// This set of flags propagates
	fl := com.PersistentFlags()

	stdpaths := &f.Paths
	pathFlags := pflag.NewFlagSet("Standard Paths", pflag.ExitOnError)
	pathFlags.StringVar(&stdpaths.NFI_APPNAME, "stdpath.app", unset, "App name")
	pathFlags.StringVar(&stdpaths.CONFIG_HOME, "stdpath.config", unset, "Configuration directory")
	pathFlags.StringVar(&stdpaths.STATE_HOME, "stdpath.state", unset, "State directory")
	pathFlags.StringVar(&stdpaths.DATA_HOME, "stdpath.data", unset, "Data directory")
	fl.AddFlagSet(pathFlags)

	cfgFlags := pflag.NewFlagSet("Configuration", pflag.ExitOnError)
	cfgFlags.StringVar(&f.Config, "config", unset, "Path to the settings file")
	cfgFlags.StringVar(&f.LogLevel, "log-level", zerolog.LevelInfoValue, "Log level (trace, debug, info, warn, error)")
	fl.AddFlagSet(cfgFlags)

	com.AddGroup(
		&cobra.Group{ID: "inventory", Title: "Inventory"},
		&cobra.Group{ID: "scans", Title: "Scans"},
	)
	com.AddCommand(nfi.Commands(sess.load)...)
	return &Program{Command: com, sess: sess}
}

func Run() error {
	return Command().Execute()
}
