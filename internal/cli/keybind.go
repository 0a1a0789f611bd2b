package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/deplug/internal/app"
	"github.com/dshills/deplug/internal/keybind"
)

func keybindCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keybind",
		Short: "Manage the profile's key bindings",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List key bindings",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "KEYS\tCOMMAND\tWHEN")
			for _, b := range a.Keybind().Bindings() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Keys, b.Command, b.When)
			}
			return tw.Flush()
		}),
	}

	var when, desc string
	bind := &cobra.Command{
		Use:   "bind <keys> <command>",
		Short: "Bind a key sequence to a command",
		Args:  cobra.ExactArgs(2),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			b := keybind.NewBinding(args[0], args[1]).WithWhen(when).WithDescription(desc)
			if err := a.Keybind().Bind(b); err != nil {
				return err
			}
			return a.Keybind().Save()
		}),
	}
	bind.Flags().StringVar(&when, "when", "", "condition for the binding")
	bind.Flags().StringVar(&desc, "description", "", "binding description")

	unbind := &cobra.Command{
		Use:   "unbind <keys>",
		Short: "Remove a key binding",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if !a.Keybind().Unbind(args[0]) {
				return fmt.Errorf("no binding for %q", args[0])
			}
			return a.Keybind().Save()
		}),
	}

	cmd.AddCommand(list, bind, unbind)
	return cmd
}
