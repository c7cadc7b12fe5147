/*
Copyright 2025 Scanhive Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5400"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SCANHIVE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SCANHIVE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SCANHIVE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SCANHIVE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SCANHIVE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SCANHIVE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SCANHIVE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"SCANHIVE_REDIS_DNS"`
}

// QueueConfig controls the broker: how many scan queues work is sharded
// across, how often an attempt may be retried in-process, and the execution
// time limits applied per attempt.
type QueueConfig struct {
	ScanQueue        string `json:"scan_queue" envconfig:"SCANHIVE_QUEUE_SCAN_QUEUE"`
	NumberOfQueues   int    `json:"number_of_queues" envconfig:"SCANHIVE_QUEUE_NUMBER_OF_QUEUES"`
	MaxScanAttempts  int    `json:"max_scan_attempts" envconfig:"SCANHIVE_QUEUE_MAX_SCAN_ATTEMPTS"`
	HardTimeLimitSec int    `json:"hard_time_limit_sec" envconfig:"SCANHIVE_QUEUE_HARD_TIME_LIMIT_SEC"`
	SoftTimeLimitSec int    `json:"soft_time_limit_sec" envconfig:"SCANHIVE_QUEUE_SOFT_TIME_LIMIT_SEC"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"SCANHIVE_QUEUE_MONITORING_PORT"`
}

// ScanConfig holds admission-control settings. Cost is charged per scan at
// submission time and is never refunded.
type ScanConfig struct {
	CostPerScan int64 `json:"cost_per_scan" envconfig:"SCANHIVE_SCAN_COST_PER_SCAN"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SCANHIVE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SCANHIVE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SCANHIVE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type S3Config struct {
	AccessKeyID     string `json:"access_key_id" envconfig:"SCANHIVE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"SCANHIVE_S3_SECRET_ACCESS_KEY"`
	Endpoint        string `json:"endpoint" envconfig:"SCANHIVE_S3_ENDPOINT"`
	BucketName      string `json:"bucket_name" envconfig:"SCANHIVE_S3_BUCKET_NAME"`
	Region          string `json:"region" envconfig:"SCANHIVE_S3_REGION"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"SCANHIVE_PROJECT_NAME"`
	BackupDir       string           `json:"backup_dir" envconfig:"SCANHIVE_BACKUP_DIR"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"SCANHIVE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Scan            ScanConfig       `json:"scan"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Notification    Notification     `json:"notification"`
	S3              S3Config         `json:"s3"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("scanhive", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called scanhive.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Scanhive Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.ScanQueue == "" {
		cnf.Queue.ScanQueue = "new:scan"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MaxScanAttempts <= 0 {
		// 3 total attempts: the first run plus two retries.
		cnf.Queue.MaxScanAttempts = 3
	}
	if cnf.Queue.HardTimeLimitSec <= 0 {
		cnf.Queue.HardTimeLimitSec = 300
	}
	if cnf.Queue.SoftTimeLimitSec <= 0 {
		cnf.Queue.SoftTimeLimitSec = 240
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5401"
	}

	if cnf.Scan.CostPerScan <= 0 {
		cnf.Scan.CostPerScan = 5
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

// MockConfig sets a mock configuration for testing purposes. Queue and scan
// defaults are filled in so tests don't have to spell out the full config.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Queue.ScanQueue == "" {
		mockConfig.Queue.ScanQueue = "new:scan"
	}
	if mockConfig.Queue.NumberOfQueues <= 0 {
		mockConfig.Queue.NumberOfQueues = 1
	}
	if mockConfig.Queue.MaxScanAttempts <= 0 {
		mockConfig.Queue.MaxScanAttempts = 3
	}
	if mockConfig.Queue.HardTimeLimitSec <= 0 {
		mockConfig.Queue.HardTimeLimitSec = 300
	}
	if mockConfig.Scan.CostPerScan <= 0 {
		mockConfig.Scan.CostPerScan = 5
	}
	ConfigStore.Store(mockConfig)
}
