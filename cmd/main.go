package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zonesync/zonesync/internal/config"
	"github.com/zonesync/zonesync/internal/logging"
	"github.com/zonesync/zonesync/internal/namespace"
	"github.com/zonesync/zonesync/internal/placement"
	"github.com/zonesync/zonesync/internal/reconcile"
	"github.com/zonesync/zonesync/internal/repository/db"
	"github.com/zonesync/zonesync/internal/repository/objectstore"
	"github.com/zonesync/zonesync/internal/service"
	"github.com/zonesync/zonesync/internal/worker"
)

var (
	cfg              *config.Config
	configPath       string
	dynamoDb         *db.DynamoDb
	jobRepo          db.JobRepository
	placementService *service.PlacementService
	workerPool       *worker.Pool
)

var rootCmd = &cobra.Command{
	Use:   "zonesync",
	Short: "Policy-aware placement and replication engine",
	Long:  "zonesync decides which physical backend buckets hold each object and keeps actual placement converged with the declared location policy",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().String("log_level", "", "log level (trace|debug|info|warn)")
	rootCmd.PersistentFlags().StringSlice("backend", nil, "extra backend declaration <s3|gs>://<backend-id>@<zone>, repeatable")
	cobra.OnInitialize(initConfig)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize and migrate the database",
	Run: func(cmd *cobra.Command, args []string) {
		if err := dynamoDb.MigrateDb(context.Background()); err != nil {
			fmt.Printf("Failed to migrate the database: %v\n", err)
			return
		}
		fmt.Println("Database initialized and migrated successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		if err := dynamoDb.MigrateDown(context.Background()); err != nil {
			fmt.Printf("Failed to roll back migrations: %v\n", err)
			return
		}
		fmt.Println("Database migrations rolled back successfully")
	},
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)

	dynamoDb, err = db.NewDatabase(cfg.AwsConfig)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}

	mappingRepo := db.NewMappingRepository(dynamoDb.Client, cfg.MappingsTable)
	stateRepo := db.NewReplicaStateRepository(dynamoDb.Client, cfg.ReplicaStateTable)
	jobRepo = db.NewJobRepository(dynamoDb.Client, cfg.JobsTable)

	catalog := placement.NewCatalog(cfg.Zones...)
	resolver := placement.NewPolicyResolver(catalog)
	hasher := namespace.NewHasher(cfg.NamespacePrefix)
	engine := reconcile.NewEngine(
		reconcile.WithBulkDeleteThreshold(cfg.BulkDeleteThreshold),
		reconcile.WithMaxRetries(cfg.MaxRetries),
	)

	registry := placement.NewZoneRegistry()
	factory := objectstore.NewBackendFactory(cfg.AwsConfig, cfg.GcsClient)
	for id, backendCfg := range cfg.Backends {
		backend, err := factory.CreateBackend(context.Background(), objectstore.BackendConfig{
			ID:          id,
			Type:        objectstore.RepositoryType(backendCfg.Platform),
			Zone:        backendCfg.Zone,
			Credentials: backendCfg.Credentials,
		})
		if err != nil {
			log.Fatalf("Failed to create backend %s: %v", id, err)
		}
		if err := registry.RegisterZone(backendCfg.Zone, backend); err != nil {
			log.Fatalf("Failed to register zone %s: %v", backendCfg.Zone, err)
		}
	}

	placementService = service.NewPlacementService(
		&mappingRepo, &stateRepo, &jobRepo,
		hasher, resolver, engine, registry,
		cfg.JobRetention,
	)

	executor := worker.NewExecutor(&mappingRepo, &stateRepo, registry, hasher, cfg.BackendTimeout)
	workerPool = worker.NewPool(&jobRepo, executor, cfg.Workers, cfg.JobBatchSize,
		cfg.PollInterval, cfg.RetryBackoffBase, cfg.RetryBackoffCap)
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(downCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
