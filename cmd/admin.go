package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/spf13/cobra"

	"github.com/zonesync/zonesync/internal/domain"
	"github.com/zonesync/zonesync/internal/placement"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator commands: mappings, jobs, discovery",
}

var mappingCmd = &cobra.Command{
	Use:   "mapping <tenant> <logical-name>",
	Short: "Show the bucket mapping for a tenant/logical pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := placementService.GetMapping(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(mapping)
	},
}

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List replication jobs by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := placementService.ListJobs(context.Background(), domain.JobStatus(jobsStatus), 100)
		if err != nil {
			return err
		}
		return printJSON(jobs)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued replication job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := placementService.CancelJob(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("Job cancelled")
		return nil
	},
}

var (
	enqueueType       string
	enqueueTenant     string
	enqueueBucket     string
	enqueueKey        string
	enqueueVersion    string
	enqueueSourceZone string
	enqueueTargetZone string
	enqueuePriority   int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Manually enqueue a replication job (administrative override)",
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := placementService.EnqueueManualJob(context.Background(),
			domain.JobType(enqueueType), enqueueTenant, enqueueBucket,
			enqueueKey, enqueueVersion, enqueueSourceZone, enqueueTargetZone, enqueuePriority)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <tenant> <logical-name>",
	Short: "Force a reconciliation pass for one bucket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return placementService.ReconcileBucketNow(context.Background(), args[0], args[1])
	},
}

// discoverCmd lists managed physical buckets through the resource tagging
// API, so operators can audit what the engine has created on AWS backends.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List managed physical buckets via the resource tagging API",
	RunE: func(cmd *cobra.Command, args []string) error {
		input := &resourcegroupstaggingapi.GetResourcesInput{
			ResourceTypeFilters: []string{"s3:bucket"},
			TagFilters: []taggingtypes.TagFilter{
				{
					Key:    aws.String(placement.ManagedTagKey),
					Values: []string{placement.ManagedTagVal},
				},
			},
		}

		for {
			out, err := dynamoDb.TaggingClient.GetResources(context.Background(), input)
			if err != nil {
				return err
			}
			for _, resource := range out.ResourceTagMappingList {
				tenant := ""
				for _, tag := range resource.Tags {
					if tag.Key != nil && *tag.Key == placement.TenantTagKey && tag.Value != nil {
						tenant = *tag.Value
					}
				}
				fmt.Printf("%s\ttenant=%s\n", aws.ToString(resource.ResourceARN), tenant)
			}
			if out.PaginationToken == nil || *out.PaginationToken == "" {
				break
			}
			input.PaginationToken = out.PaginationToken
		}
		return nil
	},
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", string(domain.JobQueued), "job status to list (queued|running|completed|failed|cancelled)")

	enqueueCmd.Flags().StringVar(&enqueueType, "type", "", "job type (ADD_REPLICA|REMOVE_REPLICA|DELETE_BUCKET_REPLICA)")
	enqueueCmd.Flags().StringVar(&enqueueTenant, "tenant", "", "tenant id")
	enqueueCmd.Flags().StringVar(&enqueueBucket, "bucket", "", "logical bucket name")
	enqueueCmd.Flags().StringVar(&enqueueKey, "key", "", "object key (omit for bucket-scoped jobs)")
	enqueueCmd.Flags().StringVar(&enqueueVersion, "version", "", "object version")
	enqueueCmd.Flags().StringVar(&enqueueSourceZone, "source-zone", "", "source zone code")
	enqueueCmd.Flags().StringVar(&enqueueTargetZone, "target-zone", "", "target zone code")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 5, "priority, 1 (highest) to 10 (lowest)")
	enqueueCmd.MarkFlagRequired("type")
	enqueueCmd.MarkFlagRequired("tenant")
	enqueueCmd.MarkFlagRequired("bucket")
	enqueueCmd.MarkFlagRequired("target-zone")

	adminCmd.AddCommand(mappingCmd)
	adminCmd.AddCommand(jobsCmd)
	adminCmd.AddCommand(cancelCmd)
	adminCmd.AddCommand(enqueueCmd)
	adminCmd.AddCommand(reconcileCmd)
	adminCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(adminCmd)
}
