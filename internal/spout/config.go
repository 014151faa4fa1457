package spout

import "time"

// Config holds the recognized configuration keys from spec.md section 6
// plus the domain-stack defaults SPEC_FULL.md adds for the Coordinator and
// the ZooKeeper-backed persistence manager. The wiring layer fills it in
// (cmd/spout/main.go does so from environment variables); this package has
// no decoder from a raw config map.
type Config struct {
	KafkaBrokers []string

	PersistenceZKServers        []string
	PersistenceZKRoot           string
	PersistenceZKSessionTimeout time.Duration

	CoordinatorMonitorInterval time.Duration
	CoordinatorFlushInterval  time.Duration
	CoordinatorMaxStopWait    time.Duration
	CoordinatorQueueCapacity  int

	KafkaConsumerGroupPrefix string
	MetricsStatsdAddr        string
}

// DefaultConfig returns a Config with every domain-stack default from
// SPEC_FULL.md section 1.3 applied; KafkaBrokers and
// PersistenceZKRoot must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		PersistenceZKSessionTimeout: 6 * time.Second,
		CoordinatorMonitorInterval:  2 * time.Second,
		CoordinatorFlushInterval:    30 * time.Second,
		CoordinatorMaxStopWait:      10 * time.Second,
		CoordinatorQueueCapacity:    1000,
		KafkaConsumerGroupPrefix:    "dynamic-spout",
	}
}

// Validate enforces the section-6 requirement that persistence.zk.root is
// present.
func (c Config) Validate() error {
	if c.PersistenceZKRoot == "" {
		return ErrPersistenceRootRequired
	}
	return nil
}
