// Command spout is a thin wiring example, not a CLI: it shows how the
// pieces in internal/spout, internal/broker, internal/persistence/zk and
// host compose into a firehose. It builds and wires the collaborators but
// does not open the Coordinator or start consuming. Sideline trigger handling is left
// to whatever process embeds host.Spout and calls into a
// spout.SidelineHandler — that entry point is out of this module's scope
// per spec.md section 1.
package main

import (
	"log"
	"os"
	"strings"

	saramalib "github.com/Shopify/sarama"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/UtilityTools/dynamic-spout-go/internal/broker"
	"github.com/UtilityTools/dynamic-spout-go/internal/metrics"
	"github.com/UtilityTools/dynamic-spout-go/internal/persistence/zk"
	"github.com/UtilityTools/dynamic-spout-go/internal/spout"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	cfg := spout.DefaultConfig()
	cfg.KafkaBrokers = splitEnv("KAFKA_BROKERS", []string{"localhost:9092"})
	cfg.PersistenceZKServers = splitEnv("ZK_SERVERS", []string{"localhost:2181"})
	cfg.PersistenceZKRoot = os.Getenv("ZK_ROOT")
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	persistence := zk.NewManager(logger)
	if err := persistence.Open(cfg); err != nil {
		logger.Fatal("open persistence manager", zap.Error(err))
	}
	defer persistence.Close()

	scope := metrics.NewScope(tally.NoopScope)

	topic := envOr("KAFKA_TOPIC", "firehose")
	firehoseGroup := cfg.KafkaConsumerGroupPrefix + "-firehose"
	firehoseBroker := broker.NewSaramaBrokerConsumer(cfg.KafkaBrokers, firehoseGroup, []string{topic}, saramalib.NewConfig(), cfg.CoordinatorQueueCapacity, logger)

	firehose := spout.NewVirtualConsumer(spout.VirtualConsumerConfig{
		ConsumerID:   firehoseGroup,
		Broker:       firehoseBroker,
		Deserializer: spout.DeserializerFunc(utf8Deserializer),
	}, spout.NewFilterChain(), persistence, logger, scope.ScopedToConsumer(firehoseGroup))

	coordinator := spout.NewCoordinator(firehose, cfg, scope, logger)

	newSidelineConsumer := func(consumerID string, startingOffsets, endingOffsets spout.OffsetMap, chain *spout.FilterChain) *spout.VirtualConsumer {
		sidelineBroker := broker.NewSaramaBrokerConsumer(cfg.KafkaBrokers, consumerID, []string{topic}, saramalib.NewConfig(), cfg.CoordinatorQueueCapacity, logger)
		bound := endingOffsets
		return spout.NewVirtualConsumer(spout.VirtualConsumerConfig{
			ConsumerID:    consumerID,
			Broker:        sidelineBroker,
			Deserializer:  spout.DeserializerFunc(utf8Deserializer),
			EndingOffsets: &bound,
		}, chain, persistence, logger, scope.ScopedToConsumer(consumerID))
	}

	_ = spout.NewSidelineHandler(firehose, coordinator, persistence, newSidelineConsumer, logger, scope)

	logger.Info("wiring ready; embed host.Spout in a topology to run it")
}

func utf8Deserializer(topic string, partition int32, offset int64, key, value []byte) (spout.Values, bool) {
	if value == nil {
		return nil, false
	}
	return spout.Values{string(key), string(value)}, true
}

func splitEnv(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	return strings.Split(raw, ",")
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
