package kafka

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// TopicTelemetry carries signed network samples from monitor nodes
const TopicTelemetry = "telemetry.samples.v1"

// BuildSaramaConfig assembles the client configuration from the config
// manager. TLS and SASL are mandatory outside development and test
// environments; the function fails closed rather than downgrading.
func BuildSaramaConfig(cm types.ConfigManager, log *utils.Logger, audit types.AuditLogger) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0

	timeout := cm.GetDuration("KAFKA_TIMEOUT", 30*time.Second)
	cfg.Net.DialTimeout = timeout
	cfg.Net.ReadTimeout = timeout
	cfg.Net.WriteTimeout = timeout

	env := strings.ToLower(cm.GetString("ENVIRONMENT", "production"))
	devLike := env == "development" || env == "test"

	tlsEnabled := cm.GetBool("KAFKA_TLS_ENABLED", true)
	if !devLike && !tlsEnabled {
		if audit != nil {
			_ = audit.Security("kafka_tls_required", map[string]interface{}{
				"environment": env,
			})
		}
		return nil, fmt.Errorf("kafka: TLS is required in %s environment", env)
	}
	cfg.Net.TLS.Enable = tlsEnabled
	if tlsEnabled {
		cfg.Net.TLS.Config = &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		}
	} else if log != nil {
		log.Warn("Kafka TLS disabled, development use only",
			utils.ZapString("environment", env))
	}

	saslEnabled := cm.GetBool("KAFKA_SASL_ENABLED", !devLike)
	if saslEnabled {
		username, err := cm.GetStringRequired("KAFKA_SASL_USERNAME")
		if err != nil {
			return nil, fmt.Errorf("KAFKA_SASL_USERNAME required: %w", err)
		}
		password, err := cm.GetSecret("KAFKA_SASL_PASSWORD")
		if err != nil {
			return nil, fmt.Errorf("KAFKA_SASL_PASSWORD required: %w", err)
		}
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = username
		cfg.Net.SASL.Password = password

		switch mech := cm.GetString("KAFKA_SASL_MECHANISM", "SCRAM-SHA-512"); mech {
		case "SCRAM-SHA-512":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
			}
		case "SCRAM-SHA-256":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
			}
		case "PLAIN":
			if !tlsEnabled {
				return nil, fmt.Errorf("kafka: SASL PLAIN without TLS sends credentials in cleartext")
			}
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("kafka: unsupported SASL mechanism %q", mech)
		}
	}

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	switch strings.ToLower(cm.GetString("KAFKA_CONSUMER_OFFSET_INITIAL", "latest")) {
	case "earliest", "oldest", "beginning":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.MaxProcessingTime = cm.GetDuration("KAFKA_CONSUMER_MAX_PROCESSING_TIME", 30*time.Second)
	cfg.Consumer.Group.Session.Timeout = cm.GetDuration("KAFKA_CONSUMER_SESSION_TIMEOUT", 10*time.Second)
	cfg.Consumer.Group.Heartbeat.Interval = cm.GetDuration("KAFKA_CONSUMER_HEARTBEAT", 3*time.Second)
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Fetch.Max = int32(MaxMessageSize)

	cfg.Metadata.Retry.Max = 3
	cfg.Metadata.Retry.Backoff = 250 * time.Millisecond
	cfg.Metadata.RefreshFrequency = 10 * time.Minute

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka: invalid client config: %w", err)
	}
	return cfg, nil
}
