package config

import "strings"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
	// Alias names the database resource that scopes and deferred jobs are tracked under.
	Alias        string `mapstructure:"alias" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// BrokerConfig selects and configures the job backend.
type BrokerConfig struct {
	// Backend is "local" for the in-process worker pool or "redis" for a Redis list broker.
	Backend      string `mapstructure:"backend" validate:"required,oneof=local redis"`
	RedisURL     string `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	KeyPrefix    string `mapstructure:"key_prefix" validate:"required"`
	DefaultQueue string `mapstructure:"default_queue" validate:"required"`
}

// WorkerConfig sizes the workers and names the queues they consume.
type WorkerConfig struct {
	Count     int `mapstructure:"count" validate:"gte=1"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
	// Queues lists extra queues to consume besides Broker.DefaultQueue.
	Queues []string `mapstructure:"queues" validate:"dive,required,max=255"`
}

// Queues returns the queues this server consumes: the default queue first,
// then Worker.Queues in order, without duplicates.
func (c *Config) Queues() []string {
	queues := []string{c.Broker.DefaultQueue}
	seen := map[string]bool{c.Broker.DefaultQueue: true}
	for _, q := range c.Worker.Queues {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		queues = append(queues, q)
	}
	return queues
}
