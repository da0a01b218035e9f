package config

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zonesync/zonesync/internal/domain"
	"github.com/zonesync/zonesync/internal/repository/objectstore"
)

// BackendConfig declares one storage backend and the zone it hosts.
type BackendConfig struct {
	Platform string `yaml:"platform"` // s3 | gcs
	Zone     string `yaml:"zone"`
	// CredentialsParameter optionally names an SSM parameter holding the
	// backend credentials, fetched (decrypted) at load time.
	CredentialsParameter string `yaml:"credentials_parameter"`
	Credentials          string `yaml:"-"`
}

// Config holds the application configuration
type Config struct {
	LogLevel string `yaml:"log_level"`
	// AwsConfig: AWS SDK uses a shared configuration object that contains
	// credentials, region, retry policies, etc. Multiple AWS services
	// (S3, DynamoDB, SSM, etc.) are created from this single config.
	AwsConfig aws.Config
	// GcsClient: Google Cloud SDK uses individual service clients that
	// handle their own configuration internally via environment variables,
	// service account files, or metadata service. No shared config needed.
	GcsClient *storage.Client

	MappingsTable     string `yaml:"mappings_table"`
	ReplicaStateTable string `yaml:"replica_state_table"`
	JobsTable         string `yaml:"jobs_table"`

	// NamespacePrefix is the fixed prefix composed into every physical
	// bucket name this deployment creates.
	NamespacePrefix string `yaml:"namespace_prefix"`

	Backends map[string]BackendConfig `yaml:"backends"`
	Zones    []domain.Zone            `yaml:"zones"`

	Workers             int           `yaml:"workers"`
	JobBatchSize        int           `yaml:"job_batch_size"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	BackendTimeout      time.Duration `yaml:"backend_timeout"`
	RetryBackoffBase    time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffCap     time.Duration `yaml:"retry_backoff_cap"`
	MaxRetries          int           `yaml:"max_retries"`
	BulkDeleteThreshold int           `yaml:"bulk_delete_threshold"`
	JobRetention        time.Duration `yaml:"job_retention"`
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	awsConfig, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}

	gcsClient, err := loadGCSClient()
	if err != nil {
		return nil, err
	}

	backends, err := parseBackends(awsConfig)
	if err != nil {
		return nil, err
	}

	return &Config{
		LogLevel:            viper.GetString("log_level"),
		AwsConfig:           awsConfig,
		GcsClient:           gcsClient,
		MappingsTable:       viper.GetString("mappings_table"),
		ReplicaStateTable:   viper.GetString("replica_state_table"),
		JobsTable:           viper.GetString("jobs_table"),
		NamespacePrefix:     viper.GetString("namespace_prefix"),
		Backends:            backends,
		Zones:               parseZones(),
		Workers:             viper.GetInt("workers"),
		JobBatchSize:        viper.GetInt("job_batch_size"),
		PollInterval:        viper.GetDuration("poll_interval"),
		ReconcileInterval:   viper.GetDuration("reconcile_interval"),
		BackendTimeout:      viper.GetDuration("backend_timeout"),
		RetryBackoffBase:    viper.GetDuration("retry_backoff_base"),
		RetryBackoffCap:     viper.GetDuration("retry_backoff_cap"),
		MaxRetries:          viper.GetInt("max_retries"),
		BulkDeleteThreshold: viper.GetInt("bulk_delete_threshold"),
		JobRetention:        viper.GetDuration("job_retention"),
	}, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("mappings_table", "bucket_mappings")
	viper.SetDefault("replica_state_table", "object_replica_state")
	viper.SetDefault("jobs_table", "replication_jobs")
	viper.SetDefault("namespace_prefix", "zs")
	viper.SetDefault("workers", 4)
	viper.SetDefault("job_batch_size", 10)
	viper.SetDefault("poll_interval", "5s")
	viper.SetDefault("reconcile_interval", "10m")
	viper.SetDefault("backend_timeout", "2m")
	viper.SetDefault("retry_backoff_base", "10s")
	viper.SetDefault("retry_backoff_cap", "15m")
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("bulk_delete_threshold", 10)
	viper.SetDefault("job_retention", "168h")
}

// loadAWSConfig loads AWS SDK configuration
func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %v", err)
	}
	return cfg, nil
}

// loadGCSClient loads Google Cloud Storage client
func loadGCSClient() (*storage.Client, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %v", err)
	}
	return client, nil
}

// parseBackends parses backend declarations from Viper and resolves any
// SSM-held credentials.
func parseBackends(awsConfig aws.Config) (map[string]BackendConfig, error) {
	backends := make(map[string]BackendConfig)
	raw := viper.GetStringMap("backends")

	var ssmClient *ssm.Client

	for id, value := range raw {
		backendMap, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		backend := BackendConfig{
			Platform:             getString(backendMap, "platform", "s3"),
			Zone:                 getString(backendMap, "zone", ""),
			CredentialsParameter: getString(backendMap, "credentials_parameter", ""),
		}
		if backend.Zone == "" {
			return nil, fmt.Errorf("backend %s is missing a zone", id)
		}

		if backend.CredentialsParameter != "" {
			if ssmClient == nil {
				ssmClient = ssm.NewFromConfig(awsConfig)
			}
			creds, err := fetchParameter(ssmClient, backend.CredentialsParameter)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch credentials for backend %s: %w", id, err)
			}
			backend.Credentials = creds
		}

		backends[id] = backend
	}

	// Flag-declared backends (--backend s3://id@zone) merge over the file.
	for _, decl := range viper.GetStringSlice("backend") {
		parsed, err := objectstore.ParseBackendConfig(decl)
		if err != nil {
			return nil, err
		}
		backends[parsed.ID] = BackendConfig{
			Platform: string(parsed.Type),
			Zone:     parsed.Zone,
		}
	}

	return backends, nil
}

// fetchParameter reads a decrypted SSM parameter value.
func fetchParameter(client *ssm.Client, name string) (string, error) {
	out, err := client.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *out.Parameter.Value, nil
}

// parseZones parses extra catalog zones from Viper.
func parseZones() []domain.Zone {
	var zones []domain.Zone
	raw := viper.Get("zones")
	list, ok := raw.([]interface{})
	if !ok {
		return zones
	}

	for _, entry := range list {
		zoneMap, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		zone := domain.Zone{
			Code:    getString(zoneMap, "code", ""),
			Region:  getString(zoneMap, "region", ""),
			Country: getString(zoneMap, "country", ""),
		}
		if d, ok := zoneMap["default"].(bool); ok {
			zone.Default = d
		}
		if zone.Code != "" {
			zones = append(zones, zone)
		}
	}
	return zones
}

// SetConfigValue sets a configuration value (used for CLI flags)
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}

// getString safely extracts string value from map with default
func getString(m map[string]interface{}, key, defaultValue string) string {
	if value, exists := m[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}
