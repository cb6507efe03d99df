package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imobcloud/billing/pkg/limits"
)

var plansJSON bool

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Plan catalog tools",
}

var plansValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a YAML plan catalog and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := limits.NewCatalog(cmd.Context(), limits.NewYAMLSource(args[0]))
		if err != nil {
			return err
		}
		plans := catalog.Plans()

		out := cmd.OutOrStdout()
		if plansJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(plans)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPRICE\tTRIAL\tUSERS\tPROPERTIES\tINTEGRATIONS\tFEATURES")
		for _, p := range plans {
			fmt.Fprintf(tw, "%s\t%s %s\t%dd\t%s\t%s\t%s\t%s\n",
				p.ID, p.Price.StringFixed(2), p.Currency, p.TrialDays,
				limitString(p, limits.ResourceUsers),
				limitString(p, limits.ResourceProperties),
				limitString(p, limits.ResourceIntegrations),
				joinFeatures(p.Features),
			)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d plans OK\n", len(plans))
		return nil
	},
}

func init() {
	plansValidateCmd.Flags().BoolVar(&plansJSON, "json", false, "print the catalog as JSON")
	plansCmd.AddCommand(plansValidateCmd)
}

func limitString(p limits.Plan, res limits.Resource) string {
	if n := p.Limit(res); n != limits.Unlimited {
		return fmt.Sprint(n)
	}
	return "unlimited"
}

func joinFeatures(fs []limits.Feature) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}
