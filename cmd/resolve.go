package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resolveTenant     string
	resolveRegion     string
	resolveBucket     string
	resolveConstraint string
	resolveReplicas   int
)

// resolveCmd is the pre-flight evaluation endpoint: it resolves the location
// policy and physical names without persisting anything.
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Dry-run a location constraint and show the resulting placement",
	RunE: func(cmd *cobra.Command, args []string) error {
		evaluation, err := placementService.Evaluate(context.Background(),
			resolveTenant, resolveRegion, resolveBucket, resolveConstraint, resolveReplicas)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(evaluation, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveTenant, "tenant", "", "tenant id")
	resolveCmd.Flags().StringVar(&resolveRegion, "region", "", "tenant region id")
	resolveCmd.Flags().StringVar(&resolveBucket, "bucket", "", "logical bucket name")
	resolveCmd.Flags().StringVar(&resolveConstraint, "constraint", "", "location constraint, e.g. fi,de,fr")
	resolveCmd.Flags().IntVar(&resolveReplicas, "replicas", 1, "requested replica count")
	resolveCmd.MarkFlagRequired("tenant")
	resolveCmd.MarkFlagRequired("bucket")
	resolveCmd.MarkFlagRequired("constraint")
	rootCmd.AddCommand(resolveCmd)
}
