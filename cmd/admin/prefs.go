package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"railwars.gg/internal/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and write game preferences.",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a preference.",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		p, err := e.prefs.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	}),
}

var prefsSetCmd = &cobra.Command{
	Use:   "set KEY (--bool B | --num N | --str S)",
	Short: "Set a preference to exactly one typed value.",
	Args:  cobra.ExactArgs(1),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		p := prefs.Preference{Key: args[0]}
		fs := cmd.Flags()
		if fs.Changed("bool") {
			v, _ := fs.GetBool("bool")
			p.BoolValue = &v
		}
		if fs.Changed("num") {
			v, _ := fs.GetFloat64("num")
			p.NumValue = &v
		}
		if fs.Changed("str") {
			v, _ := fs.GetString("str")
			p.StrValue = &v
		}
		if err := e.prefs.Set(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "set %s\n", p.Key)
		return nil
	}),
}

func init() {
	prefsSetCmd.Flags().Bool("bool", false, "boolean value")
	prefsSetCmd.Flags().Float64("num", 0, "numeric value")
	prefsSetCmd.Flags().String("str", "", "string value")
	prefsSetCmd.MarkFlagsMutuallyExclusive("bool", "num", "str")

	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}
