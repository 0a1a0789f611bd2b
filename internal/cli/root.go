// Package cli implements the deplug command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/deplug/internal/app"
	"github.com/dshills/deplug/internal/config"
)

// Version information, set by cmd/deplug.
var (
	Version = "dev"
	Commit  = "unknown"
)

type globalFlags struct {
	home     string
	profile  string
	catalog  string
	logLevel string
	dev      bool
}

// runner holds the App for the command being executed.
type runner struct {
	flags globalFlags
	app   *app.App

	// newApp is replaced in tests.
	newApp func(ctx context.Context, opts app.Options) (*app.App, error)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	r := &runner{newApp: app.New}

	root := &cobra.Command{
		Use:   "deplug",
		Short: "Manage packages for a deplug profile",
		Long: `deplug installs, enables and inspects packages for one profile.

Settings come from DEPLUG_* environment variables; flags override them.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return r.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&r.flags.home, "home", "", "data directory (default $DEPLUG_HOME)")
	pf.StringVarP(&r.flags.profile, "profile", "p", "", "profile name (default $DEPLUG_PROFILE)")
	pf.StringVar(&r.flags.catalog, "catalog", "", "catalog directory (default $DEPLUG_CATALOG)")
	pf.StringVar(&r.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&r.flags.dev, "dev", false, "human-readable logs")

	root.AddCommand(
		listCmd(r),
		availableCmd(r),
		infoCmd(r),
		searchCmd(r),
		installCmd(r),
		uninstallCmd(r),
		enableCmd(r),
		disableCmd(r),
		refreshCmd(r),
		capabilitiesCmd(r),
		configCmd(r),
		keybindCmd(r),
		versionCmd(),
	)
	return root
}

// Execute runs the command line with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// settings loads the environment and applies flag overrides.
func (r *runner) settings() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if r.flags.home != "" {
		cfg.Home = r.flags.home
	}
	if r.flags.profile != "" {
		cfg.Profile = r.flags.profile
	}
	if r.flags.catalog != "" {
		cfg.Catalog = r.flags.catalog
	}
	if r.flags.logLevel != "" {
		cfg.LogLevel = r.flags.logLevel
	}
	if r.flags.dev {
		cfg.LogDev = true
	}
	return cfg, cfg.Validate()
}

// open builds the App once per invocation.
func (r *runner) open(cmd *cobra.Command) (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	cfg, err := r.settings()
	if err != nil {
		return nil, err
	}
	a, err := r.newApp(cmd.Context(), app.Options{
		Config:  cfg,
		Args:    cmd.Flags().Args(),
		NoWatch: true,
	})
	if err != nil {
		return nil, err
	}
	if serr := a.StartErr(); serr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", serr)
	}
	r.app = a
	return a, nil
}

func (r *runner) close() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

// withApp adapts a command body that needs the App. The App is closed
// even when the body fails.
func (r *runner) withApp(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := r.open(cmd)
		if err != nil {
			return err
		}
		if err := fn(cmd, a, args); err != nil {
			_ = r.close()
			return err
		}
		return nil
	}
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
