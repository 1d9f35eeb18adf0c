package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/cwbudde/policyopt/internal/problem"
	"github.com/spf13/cobra"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Show which optimizers can run on which functions",
	Long: `Lists the policies every objective implements, the policy every
optimizer requires, and the resulting compatibility matrix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPolicies(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(policiesCmd)
}

func printPolicies(out io.Writer) error {
	have := make(map[string][]function.Policy, len(config.Functions))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FUNCTION\tPOLICIES")
	for _, name := range config.Functions {
		policies, err := problem.FunctionPolicies(name)
		if err != nil {
			return err
		}
		have[name] = policies
		names := make([]string, len(policies))
		for i, p := range policies {
			names[i] = string(p)
		}
		fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(names, ", "))
	}
	w.Flush()
	fmt.Fprintln(out)

	required := make(map[string]function.Policy)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPTIMIZER\tREQUIRES")
	for _, name := range opt.Names() {
		o, err := opt.New(name, opt.Params{}, nil)
		if err != nil {
			return err
		}
		required[name] = o.Requires()
		fmt.Fprintf(w, "%s\t%s\n", name, o.Requires())
	}
	w.Flush()
	fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprint(w, "\t")
	for _, name := range opt.Names() {
		fmt.Fprintf(w, "%s\t", name)
	}
	fmt.Fprintln(w)
	for _, fn := range config.Functions {
		fmt.Fprintf(w, "%s\t", fn)
		for _, name := range opt.Names() {
			mark := "-"
			if slices.Contains(have[fn], required[name]) {
				mark = "x"
			}
			fmt.Fprintf(w, "%s\t", mark)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
