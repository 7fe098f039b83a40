package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cjp256/lpt/internal/artifact"
	"github.com/cjp256/lpt/internal/collect"
	"github.com/cjp256/lpt/internal/config"
	"github.com/cjp256/lpt/internal/logging"
)

// globalFlags are shared by every command.
type globalFlags struct {
	debug        bool
	output       string
	configPath   string
	sshProxyHost string
	sshProxyUser string
}

// app is the state built before a command runs.
type app struct {
	flags  globalFlags
	cfg    config.Config
	log    *slog.Logger
	runID  string
	stdout io.Writer

	logFile *os.File
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	a := &app{stdout: stdout}

	root := &cobra.Command{
		Use:           "lpt",
		Short:         "Linux boot performance analysis",
		Long:          "lpt correlates the systemd journal, the cloud-init log and systemd unit state\nto explain where boot time went.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&a.flags.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&a.flags.output, "output", "lpt-output", "Directory for captured logs and the run log")
	pf.StringVar(&a.flags.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.flags.sshProxyHost, "ssh-proxy-host", "", "Jump host for --ssh-host")
	pf.StringVar(&a.flags.sshProxyUser, "ssh-proxy-user", "", "User on the jump host")

	root.AddCommand(
		newAnalyzeCmd(a, modeAll),
		newAnalyzeCmd(a, modeCloudInit),
		newAnalyzeCmd(a, modeJournal),
		newGraphCmd(a),
	)
	return root
}

// setup loads the configuration, applies flag overrides and opens the logs.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("output") || cfg.Output == "" {
		cfg.Output = a.flags.output
	}
	if flags.Changed("ssh-proxy-host") {
		cfg.SSH.ProxyHost = a.flags.sshProxyHost
	}
	if flags.Changed("ssh-proxy-user") {
		cfg.SSH.ProxyUser = a.flags.sshProxyUser
	}
	a.cfg = cfg
	a.runID = uuid.NewString()

	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if a.flags.debug {
		level = slog.LevelDebug
	}

	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	a.logFile, err = os.Create(filepath.Join(cfg.Output, "lpt.log"))
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}

	a.log = logging.New(logging.Config{
		Level:  level,
		Format: format,
		Writer: cmd.ErrOrStderr(),
		File:   a.logFile,
	}).With("run_id", a.runID)
	a.log.Debug("configuration loaded", "config", a.flags.configPath, "output", cfg.Output)
	return nil
}

func (a *app) teardown() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}

// targetFlags select where logs come from.
type targetFlags struct {
	sshHost string
	sshUser string
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.sshHost, "ssh-host", "", "Collect from this host over SSH instead of locally")
	cmd.Flags().StringVar(&t.sshUser, "ssh-user", "", "SSH user (defaults to the configured user)")
}

// collector returns a collector for the target and a cleanup func.
func (a *app) collector(ctx context.Context, t targetFlags) (*collect.Collector, func() error, error) {
	store, err := artifact.NewStore(a.cfg.Output, a.runID)
	if err != nil {
		return nil, nil, err
	}
	c := &collect.Collector{Store: store, Log: a.log}
	if t.sshHost == "" {
		return c, store.Close, nil
	}

	sc := a.cfg.SSH
	user := sc.User
	if t.sshUser != "" {
		user = t.sshUser
	}
	remote, err := collect.DialSSH(ctx, collect.SSHConfig{
		Host:                  t.sshHost,
		User:                  user,
		Port:                  sc.Port,
		KeyPath:               sc.KeyPath,
		KnownHostsPath:        sc.KnownHostsPath,
		InsecureIgnoreHostKey: sc.InsecureIgnoreHostKey,
		ProxyHost:             sc.ProxyHost,
		ProxyUser:             sc.ProxyUser,
		CommandTimeout:        sc.CommandTimeout.Std(),
		ConnectAttempts:       sc.ConnectAttempts,
		RetryDelay:            sc.RetryDelay.Std(),
		Logger:                a.log,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	a.log.Info("connected", "host", t.sshHost, "user", user, "proxy", sc.ProxyHost)

	c.Runner = remote
	c.Remote = true
	cleanup := func() error {
		return errors.Join(remote.Close(), store.Close())
	}
	return c, cleanup, nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
