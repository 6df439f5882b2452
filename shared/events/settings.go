package events

import "strings"

const (
	MessageVersion     = "1.0"
	DefaultMaxRetries  = 3
	DefaultBatchSize   = 1
	DefaultEventSource = "clever-events"
)

// Settings is the read-only configuration shared by the publishing and
// consuming components. It is built once at startup and passed by value.
type Settings struct {
	PublishEnabled  bool
	DefaultTopic    string
	FIFOTopic       bool
	BaseAPIURL      string
	Source          string
	DefaultQueue    string
	DeadLetterQueue string
	BatchSize       int
	WaitSeconds     int
	MaxRetries      int
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.WaitSeconds < 0 {
		s.WaitSeconds = 0
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if strings.TrimSpace(s.Source) == "" {
		s.Source = DefaultEventSource
	}
	s.BaseAPIURL = strings.TrimRight(strings.TrimSpace(s.BaseAPIURL), "/")
	return s
}

// isFIFO reports whether publishes to topic need group and deduplication ids.
func (s Settings) isFIFO(topic string) bool {
	return s.FIFOTopic || strings.HasSuffix(topic, ".fifo")
}

func (s Settings) deadLetterConfigured() bool {
	return strings.TrimSpace(s.DeadLetterQueue) != ""
}
