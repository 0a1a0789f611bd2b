package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/deplug/internal/app"
	"github.com/dshills/deplug/internal/manifest"
)

func listCmd(r *runner) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages and their status",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tENABLED\tERROR")
			for _, rec := range a.Packages().List() {
				if enabledOnly && !rec.Enabled {
					continue
				}
				version := rec.InstalledVersion
				if version == "" {
					version = "-"
				}
				errText := ""
				if rec.LastError != nil {
					errText = rec.LastError.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.Name(), version, rec.Status, yesNo(rec.Enabled), errText)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled packages")
	return cmd
}

func availableCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List packages from the catalog and the packages directory",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			list, err := a.Registry().ListAvailable(cmd.Context())
			if err != nil {
				return err
			}
			return printManifests(cmd, a, list)
		}),
	}
}

func searchCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search package names, descriptions and capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			list, err := a.Registry().Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printManifests(cmd, a, list)
		}),
	}
}

func printManifests(cmd *cobra.Command, a *app.App, list []*manifest.Manifest) error {
	tw := table(cmd.OutOrStdout())
	fmt.Fprintln(tw, "NAME\tVERSION\tINSTALLED\tDESCRIPTION")
	for _, m := range list {
		installed := "-"
		if rec, ok := a.Packages().Get(m.Name()); ok && rec.InstalledVersion != "" {
			installed = rec.InstalledVersion
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name(), m.Version(), installed, m.Description())
	}
	return tw.Flush()
}

func infoCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show package details",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			m, err := a.Registry().Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:         %s\n", m.Name())
			fmt.Fprintf(out, "Display name: %s\n", m.DisplayName())
			fmt.Fprintf(out, "Version:      %s\n", m.Version())
			if d := m.Description(); d != "" {
				fmt.Fprintf(out, "Description:  %s\n", d)
			}
			if deps := m.DependencyNames(); len(deps) > 0 {
				parts := make([]string, len(deps))
				for i, d := range deps {
					rng, _ := m.Range(d)
					parts[i] = strings.TrimSpace(d + " " + rng)
				}
				fmt.Fprintf(out, "Dependencies: %s\n", strings.Join(parts, ", "))
			}
			if caps := m.Capabilities(); len(caps) > 0 {
				fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(caps, ", "))
			}
			if rec, ok := a.Packages().Get(m.Name()); ok {
				fmt.Fprintf(out, "Status:       %s\n", rec.Status)
				fmt.Fprintf(out, "Enabled:      %s\n", yesNo(rec.Enabled))
				if rec.LastError != nil {
					fmt.Fprintf(out, "Last error:   %v\n", rec.LastError)
				}
			} else {
				fmt.Fprintf(out, "Status:       %s\n", "uninstalled")
			}
			return nil
		}),
	}
}

// eachName runs op for every argument, reporting each outcome, and
// fails if any did.
func eachName(verb string, op func(a *app.App) func(ctx context.Context, name string) error) func(*cobra.Command, *app.App, []string) error {
	return func(cmd *cobra.Command, a *app.App, args []string) error {
		fn := op(a)
		failed := 0
		for _, name := range args {
			if err := fn(cmd.Context(), name); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d package(s) failed", failed, len(args))
		}
		return nil
	}
}

func installCmd(r *runner) *cobra.Command {
	var enable bool

	cmd := &cobra.Command{
		Use:   "install <name>...",
		Short: "Download and install packages from the catalog",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "enable after installing")
	cmd.RunE = r.withApp(eachName("installed", func(a *app.App) func(context.Context, string) error {
		return func(ctx context.Context, name string) error {
			if err := a.Packages().Install(ctx, name); err != nil {
				return err
			}
			if enable {
				return a.Packages().Enable(ctx, name)
			}
			return nil
		}
	}))
	return cmd
}

func uninstallCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>...",
		Short: "Remove installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: r.withApp(eachName("uninstalled", func(a *app.App) func(context.Context, string) error {
			return a.Packages().Uninstall
		})),
	}
}

func enableCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>...",
		Short: "Enable packages and activate them with their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: r.withApp(eachName("enabled", func(a *app.App) func(context.Context, string) error {
			return a.Packages().Enable
		})),
	}
}

func disableCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>...",
		Short: "Disable packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: r.withApp(eachName("disabled", func(a *app.App) func(context.Context, string) error {
			return a.Packages().Disable
		})),
	}
}

func refreshCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-read the catalog",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			ctx := cmd.Context()
			if t := a.Settings().RefreshTimeout; t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}
			if err := a.Registry().Refresh(ctx); err != nil {
				return err
			}
			list, err := a.Registry().ListAvailable(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog refreshed: %d package(s) available\n", len(list))
			return nil
		}),
	}
}

func capabilitiesCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List capabilities of active packages",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			for _, c := range a.Menu().Capabilities() {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		}),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
