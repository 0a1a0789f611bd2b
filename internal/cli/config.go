package cli

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/dshills/deplug/internal/app"
)

func configCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write the profile's config namespace",
	}
	cmd.AddCommand(configGetCmd(r), configSetCmd(r), configUnsetCmd(r))
	return cmd
}

func configGetCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print a value, or the whole namespace as TOML",
		Args:  cobra.MaximumNArgs(1),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			ns := a.Config()
			if len(args) == 0 {
				data, err := toml.Marshal(ns.Snapshot())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if !ns.Has(args[0]) {
				return fmt.Errorf("config key %q is not set", args[0])
			}
			v := ns.Get(args[0], nil)
			if m, ok := v.(map[string]any); ok {
				data, err := toml.Marshal(m)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
}

func configSetCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value; JSON literals are stored typed, anything else as a string",
		Args:  cobra.ExactArgs(2),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			ns := a.Config()
			ns.Set(args[0], parseValue(args[1]))
			return ns.Flush()
		}),
	}
}

func configUnsetCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			ns := a.Config()
			ns.Delete(args[0])
			return ns.Flush()
		}),
	}
}

// parseValue reads numbers, booleans, arrays and objects as JSON.
// Whole numbers become int64.
func parseValue(s string) any {
	if !gjson.Valid(s) {
		return s
	}
	res := gjson.Parse(s)
	switch res.Type {
	case gjson.String:
		return res.String()
	case gjson.Null:
		return s
	}
	return convert(res)
}

func convert(res gjson.Result) any {
	switch {
	case res.IsArray():
		var out []any
		for _, item := range res.Array() {
			out = append(out, convert(item))
		}
		return out
	case res.IsObject():
		out := make(map[string]any)
		res.ForEach(func(k, v gjson.Result) bool {
			out[k.String()] = convert(v)
			return true
		})
		return out
	case res.Type == gjson.Number:
		if f := res.Float(); f == float64(int64(f)) {
			return res.Int()
		}
		return res.Float()
	case res.Type == gjson.True, res.Type == gjson.False:
		return res.Bool()
	}
	return res.String()
}
