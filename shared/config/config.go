package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"clever-events/shared/events"
)

const (
	EventsAdapterSNS   = "sns"
	EventsAdapterKafka = "kafka"
	EventsAdapterLog   = "log"

	QueueAdapterSQS      = "sqs"
	QueueAdapterRedis    = "redis"
	QueueAdapterPostgres = "postgres"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env         string
	ServiceName string
	HTTPPort    int
	LogLevel    string
	ConfigPath  string

	PublishEvents bool
	EventsAdapter string
	TopicARN      string
	FIFOTopic     bool
	BaseAPIURL    string
	EventSource   string

	QueueAdapter       string
	QueueURL           string
	DeadLetterQueueURL string
	BatchSize          int
	ReceiveWaitSec     int
	MaxRetries         int
	DrainConcurrency   int
	DrainIntervalSec   int

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpointURL     string

	KafkaBrokers  []string
	KafkaClientID string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	VisibilityTimeoutSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Keys lists every recognised configuration key, in the order environment
// variables are applied.
var Keys = []string{
	"ENV", "SERVICE_NAME", "HTTP_PORT", "LOG_LEVEL",
	"PUBLISH_EVENTS", "EVENTS_ADAPTER", "SNS_TOPIC_ARN", "FIFO_TOPIC", "BASE_API_URL", "EVENT_SOURCE",
	"QUEUE_ADAPTER", "SQS_QUEUE_URL", "SQS_DLQ_URL", "DEFAULT_MESSAGE_BATCH_SIZE", "RECEIVE_WAIT_SECONDS",
	"MAX_RETRIES", "DRAIN_CONCURRENCY", "DRAIN_INTERVAL_SECONDS",
	"AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_ENDPOINT_URL",
	"KAFKA_BROKERS", "KAFKA_CLIENT_ID", "KAFKA_RETRY_MAX", "KAFKA_WRITE_TIMEOUT_MS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "QUEUE_VISIBILITY_TIMEOUT_SECONDS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS",
	"ASYNQ_REDIS_ADDR", "ASYNQ_REDIS_PASSWORD", "ASYNQ_REDIS_DB", "ASYNQ_QUEUE", "ASYNQ_CONCURRENCY",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO",
}

func defaults(serviceNameDefault string, httpPortDefault int) Config {
	return Config{
		ServiceName:          serviceNameDefault,
		HTTPPort:             httpPortDefault,
		LogLevel:             "info",
		EventsAdapter:        EventsAdapterSNS,
		EventSource:          events.DefaultEventSource,
		QueueAdapter:         QueueAdapterSQS,
		BatchSize:            events.DefaultBatchSize,
		MaxRetries:           events.DefaultMaxRetries,
		DrainConcurrency:     1,
		DrainIntervalSec:     10,
		AWSRegion:            "us-east-1",
		KafkaRetryMax:        5,
		KafkaWriteMS:         5000,
		VisibilityTimeoutSec: 30,
		DBMaxConns:           10,
		DBMinConns:           1,
		DBConnMaxIdleSec:     300,
		DBConnMaxLifeSec:     1800,
		AsynqQueue:           "default",
		AsynqConcurrency:     10,
		OtelInsecure:         true,
		OtelSampleRatio:      1.0,
	}
}

// Load builds the configuration from defaults, an optional config file and
// the environment, in that order. Invalid values are reported as problems
// and fall back to their defaults.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := defaults(serviceNameDefault, httpPortDefault)
	cfg.Env = envRaw
	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CONFIG_PATH"))

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if cfg.ConfigPath == "" && cfg.Env != "" {
		if path, ok := findEnvConfig(cfg.Env); ok {
			cfg.ConfigPath = path
		}
	}

	fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != "")
	problems = append(problems, fileProblems...)
	if ok {
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	}

	applyEnv(&cfg, &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, serviceNameDefault, httpPortDefault, &problems)

	return cfg, problems
}

var (
	defaultOnce     sync.Once
	defaultConfig   Config
	defaultProblems []Problem
)

// Default loads the process-wide configuration once. Later calls return the
// same values regardless of environment changes.
func Default(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	defaultOnce.Do(func() {
		defaultConfig, defaultProblems = Load(serviceNameDefault, httpPortDefault)
	})
	return defaultConfig, defaultProblems
}

// EventSettings is the immutable view consumed by the events package.
func (c Config) EventSettings() events.Settings {
	return events.Settings{
		PublishEnabled:  c.PublishEvents,
		DefaultTopic:    c.TopicARN,
		FIFOTopic:       c.FIFOTopic,
		BaseAPIURL:      c.BaseAPIURL,
		Source:          c.EventSource,
		DefaultQueue:    c.QueueURL,
		DeadLetterQueue: c.DeadLetterQueueURL,
		BatchSize:       c.BatchSize,
		WaitSeconds:     c.ReceiveWaitSec,
		MaxRetries:      c.MaxRetries,
	}
}

func (c Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSec) * time.Second
}

func (c Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSec) * time.Second
}

func validate(cfg *Config, serviceNameDefault string, httpPortDefault int, problems *[]Problem) {
	d := defaults(serviceNameDefault, httpPortDefault)

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}

	// Unknown adapters fall back to the default transport.
	switch cfg.EventsAdapter {
	case EventsAdapterSNS, EventsAdapterKafka, EventsAdapterLog:
	default:
		cfg.EventsAdapter = EventsAdapterSNS
	}
	switch cfg.QueueAdapter {
	case QueueAdapterSQS, QueueAdapterRedis, QueueAdapterPostgres:
	default:
		cfg.QueueAdapter = QueueAdapterSQS
	}

	positive := []struct {
		field string
		value *int
		def   int
	}{
		{"DEFAULT_MESSAGE_BATCH_SIZE", &cfg.BatchSize, d.BatchSize},
		{"MAX_RETRIES", &cfg.MaxRetries, d.MaxRetries},
		{"DRAIN_CONCURRENCY", &cfg.DrainConcurrency, d.DrainConcurrency},
		{"DRAIN_INTERVAL_SECONDS", &cfg.DrainIntervalSec, d.DrainIntervalSec},
		{"KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, d.KafkaWriteMS},
		{"QUEUE_VISIBILITY_TIMEOUT_SECONDS", &cfg.VisibilityTimeoutSec, d.VisibilityTimeoutSec},
		{"DB_MAX_CONNS", &cfg.DBMaxConns, d.DBMaxConns},
		{"DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, d.DBConnMaxIdleSec},
		{"DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, d.DBConnMaxLifeSec},
		{"ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, d.AsynqConcurrency},
	}
	for _, p := range positive {
		if *p.value <= 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be > 0"})
			*p.value = p.def
		}
	}

	nonNegative := []struct {
		field string
		value *int
		def   int
	}{
		{"RECEIVE_WAIT_SECONDS", &cfg.ReceiveWaitSec, d.ReceiveWaitSec},
		{"KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, d.KafkaRetryMax},
		{"REDIS_DB", &cfg.RedisDB, d.RedisDB},
		{"ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, d.AsynqRedisDB},
		{"DB_MIN_CONNS", &cfg.DBMinConns, d.DBMinConns},
	}
	for _, p := range nonNegative {
		if *p.value < 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be >= 0"})
			*p.value = p.def
		}
	}

	if cfg.ReceiveWaitSec > 20 {
		*problems = append(*problems, Problem{Field: "RECEIVE_WAIT_SECONDS", Message: "RECEIVE_WAIT_SECONDS must be 0-20"})
		cfg.ReceiveWaitSec = d.ReceiveWaitSec
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
	if strings.TrimSpace(cfg.AWSRegion) == "" {
		cfg.AWSRegion = d.AWSRegion
	}
	if (cfg.AWSAccessKeyID == "") != (cfg.AWSSecretAccessKey == "") {
		*problems = append(*problems, Problem{Field: "AWS_ACCESS_KEY_ID", Message: "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"})
	}
}

// findEnvConfig looks for configs/<env>.yaml (or .yml, .json) in the working
// directory and its parents.
func findEnvConfig(env string) (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			candidate := filepath.Join(dir, "configs", env+ext)
			if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		if explicit {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		return nil, nil, false
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid yaml: %v", err)}}, false
		}
	default:
		dec := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
		}
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	for _, key := range Keys {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" && key == "HTTP_PORT" {
			v = strings.TrimSpace(os.Getenv("PORT"))
		}
		if v == "" {
			continue
		}
		applyValue(cfg, key, v, problems)
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		applyValue(cfg, strings.ToUpper(strings.TrimSpace(k)), v, problems)
	}
}

// applyValue sets one key. v is a string from the environment or any
// decoded JSON/YAML scalar or list from the config file.
func applyValue(cfg *Config, key string, v any, problems *[]Problem) {
	str := func(dst *string) {
		if s, ok := v.(string); ok {
			*dst = strings.TrimSpace(s)
		}
	}
	nonEmpty := func(dst *string) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			*dst = strings.TrimSpace(s)
		}
	}
	lower := func(dst *string) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			*dst = strings.ToLower(strings.TrimSpace(s))
		}
	}
	integer := func(dst *int) {
		if n, ok := asInt(v); ok {
			*dst = n
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
	}
	boolean := func(dst *bool) {
		if b, ok := asBool(v); ok {
			*dst = b
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	}
	float := func(dst *float64) {
		if f, ok := asFloat(v); ok {
			*dst = f
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
	}

	switch key {
	case "ENV":
		str(&cfg.Env)
	case "SERVICE_NAME":
		nonEmpty(&cfg.ServiceName)
	case "HTTP_PORT":
		p, ok := asInt(v)
		if !ok || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	case "LOG_LEVEL":
		nonEmpty(&cfg.LogLevel)
	case "PUBLISH_EVENTS":
		boolean(&cfg.PublishEvents)
	case "EVENTS_ADAPTER":
		lower(&cfg.EventsAdapter)
	case "SNS_TOPIC_ARN":
		str(&cfg.TopicARN)
	case "FIFO_TOPIC":
		boolean(&cfg.FIFOTopic)
	case "BASE_API_URL":
		str(&cfg.BaseAPIURL)
	case "EVENT_SOURCE":
		nonEmpty(&cfg.EventSource)
	case "QUEUE_ADAPTER":
		lower(&cfg.QueueAdapter)
	case "SQS_QUEUE_URL":
		str(&cfg.QueueURL)
	case "SQS_DLQ_URL":
		str(&cfg.DeadLetterQueueURL)
	case "DEFAULT_MESSAGE_BATCH_SIZE":
		integer(&cfg.BatchSize)
	case "RECEIVE_WAIT_SECONDS":
		integer(&cfg.ReceiveWaitSec)
	case "MAX_RETRIES":
		integer(&cfg.MaxRetries)
	case "DRAIN_CONCURRENCY":
		integer(&cfg.DrainConcurrency)
	case "DRAIN_INTERVAL_SECONDS":
		integer(&cfg.DrainIntervalSec)
	case "AWS_REGION":
		nonEmpty(&cfg.AWSRegion)
	case "AWS_ACCESS_KEY_ID":
		str(&cfg.AWSAccessKeyID)
	case "AWS_SECRET_ACCESS_KEY":
		str(&cfg.AWSSecretAccessKey)
	case "AWS_ENDPOINT_URL":
		str(&cfg.AWSEndpointURL)
	case "KAFKA_BROKERS":
		switch t := v.(type) {
		case string:
			cfg.KafkaBrokers = parseCSV(t)
		case []any:
			cfg.KafkaBrokers = parseAnyCSV(t)
		default:
			*problems = append(*problems, Problem{Field: key, Message: "KAFKA_BROKERS must be a list or comma separated string"})
		}
	case "KAFKA_CLIENT_ID":
		str(&cfg.KafkaClientID)
	case "KAFKA_RETRY_MAX":
		integer(&cfg.KafkaRetryMax)
	case "KAFKA_WRITE_TIMEOUT_MS":
		integer(&cfg.KafkaWriteMS)
	case "REDIS_ADDR":
		str(&cfg.RedisAddr)
	case "REDIS_PASSWORD":
		str(&cfg.RedisPassword)
	case "REDIS_DB":
		integer(&cfg.RedisDB)
	case "QUEUE_VISIBILITY_TIMEOUT_SECONDS":
		integer(&cfg.VisibilityTimeoutSec)
	case "DATABASE_URL":
		str(&cfg.DatabaseURL)
	case "DB_MAX_CONNS":
		integer(&cfg.DBMaxConns)
	case "DB_MIN_CONNS":
		integer(&cfg.DBMinConns)
	case "DB_CONN_MAX_IDLE_SECONDS":
		integer(&cfg.DBConnMaxIdleSec)
	case "DB_CONN_MAX_LIFETIME_SECONDS":
		integer(&cfg.DBConnMaxLifeSec)
	case "ASYNQ_REDIS_ADDR":
		str(&cfg.AsynqRedisAddr)
	case "ASYNQ_REDIS_PASSWORD":
		str(&cfg.AsynqRedisPass)
	case "ASYNQ_REDIS_DB":
		integer(&cfg.AsynqRedisDB)
	case "ASYNQ_QUEUE":
		nonEmpty(&cfg.AsynqQueue)
	case "ASYNQ_CONCURRENCY":
		integer(&cfg.AsynqConcurrency)
	case "OTEL_ENABLED":
		boolean(&cfg.OtelEnabled)
	case "OTEL_EXPORTER_OTLP_ENDPOINT":
		str(&cfg.OtelEndpoint)
	case "OTEL_EXPORTER_OTLP_INSECURE":
		boolean(&cfg.OtelInsecure)
	case "OTEL_SAMPLE_RATIO":
		float(&cfg.OtelSampleRatio)
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y":
			return true, true
		case "false", "0", "no", "n":
			return false, true
		}
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
