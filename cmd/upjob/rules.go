package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Upreak/Upjobv1-sub001/internal/access"

	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the access rule table",
	}
	var path string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the rule table and print it, most specific first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.RulesPath
			}
			table, err := loadRules(path)
			if err != nil {
				return err
			}
			return printRules(cmd, table)
		},
	}
	check.Flags().StringVar(&path, "file", "", "rules file to check (defaults to rules_path from the config)")
	rules.AddCommand(check)
	return rules
}

func printRules(cmd *cobra.Command, table *access.Table) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tALLOWS")
	for _, rule := range table.Rules() {
		allows := "any signed-in user"
		if !rule.AnyRole {
			names := make([]string, len(rule.Roles))
			for i, r := range rule.Roles {
				names[i] = string(r)
			}
			allows = strings.Join(names, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\n", rule.Prefix, allows)
	}
	return tw.Flush()
}
