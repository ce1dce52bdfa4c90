package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Consumer reads signed telemetry from telemetry.samples.v1 and feeds the
// verified samples into the metrics aggregator. Malformed, stale, or
// replayed messages are counted, marked, and skipped; they never block the
// partition.
type Consumer struct {
	group    sarama.ConsumerGroup
	topics   []string
	agg      *netmetrics.Aggregator
	verifier *Verifier
	log      *utils.Logger
	audit    types.AuditLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	consumed uint64
	admitted uint64
	rejected uint64
}

// ConsumerConfig holds consumer group construction parameters
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	VerifierCfg VerifierConfig
}

// NewConsumer creates the telemetry consumer group
func NewConsumer(ctx context.Context, cfg ConsumerConfig, saramaCfg *sarama.Config, agg *netmetrics.Aggregator, log *utils.Logger, audit types.AuditLogger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer: group ID required")
	}
	if agg == nil {
		return nil, fmt.Errorf("kafka consumer: aggregator required")
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{TopicTelemetry}
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		if audit != nil {
			_ = audit.Security("kafka_consumer_creation_failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, fmt.Errorf("kafka consumer: failed to create: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Consumer{
		group:    group,
		topics:   cfg.Topics,
		agg:      agg,
		verifier: NewVerifier(cfg.VerifierCfg),
		log:      log,
		audit:    audit,
		ctx:      cctx,
		cancel:   cancel,
	}

	if log != nil {
		log.InfoContext(ctx, "telemetry consumer created",
			utils.ZapString("group_id", cfg.GroupID),
			utils.ZapStringArray("topics", cfg.Topics))
	}
	return c, nil
}

// Start launches the consume loop; returns immediately
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("kafka consumer: already closed")
	}
	c.wg.Add(1)
	go c.consumeLoop()
	return nil
}

// Stop cancels consumption and waits for the loop to drain
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if err := c.group.Close(); err != nil {
		return fmt.Errorf("kafka consumer: close failed: %w", err)
	}
	if c.log != nil {
		c.log.Info("telemetry consumer stopped",
			utils.ZapUint64("consumed", atomic.LoadUint64(&c.consumed)),
			utils.ZapUint64("admitted", atomic.LoadUint64(&c.admitted)),
			utils.ZapUint64("rejected", atomic.LoadUint64(&c.rejected)))
	}
	return nil
}

// Stats reports consumed, admitted, and rejected message counts
func (c *Consumer) Stats() (consumed, admitted, rejected uint64) {
	return atomic.LoadUint64(&c.consumed),
		atomic.LoadUint64(&c.admitted),
		atomic.LoadUint64(&c.rejected)
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	handler := &telemetryHandler{consumer: c}
	for {
		if err := c.group.Consume(c.ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if c.log != nil {
				c.log.ErrorContext(c.ctx, "telemetry consumer error, retrying after backoff",
					utils.ZapError(err))
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}
		if c.ctx.Err() != nil {
			return
		}
	}
}

type telemetryHandler struct {
	consumer *Consumer
}

func (h *telemetryHandler) Setup(session sarama.ConsumerGroupSession) error {
	if log := h.consumer.log; log != nil {
		total := 0
		for _, partitions := range session.Claims() {
			total += len(partitions)
		}
		log.Info("telemetry consumer session ready",
			utils.ZapInt("topics", len(session.Claims())),
			utils.ZapInt("total_partitions", total))
	}
	return nil
}

func (h *telemetryHandler) Cleanup(sarama.ConsumerGroupSession) error {
	if log := h.consumer.log; log != nil {
		log.Info("telemetry consumer session closed")
	}
	return nil
}

func (h *telemetryHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			atomic.AddUint64(&h.consumer.consumed, 1)
			if err := h.consumer.processMessage(ctx, message); err != nil {
				atomic.AddUint64(&h.consumer.rejected, 1)
				// advance the offset anyway so a poisoned message
				// cannot wedge the partition
				session.MarkMessage(message, "")
				continue
			}
			session.MarkMessage(message, "")
			atomic.AddUint64(&h.consumer.admitted, 1)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	m, err := DecodeTelemetry(message.Value)
	if err != nil {
		c.logReject(ctx, message, err)
		return err
	}
	sample, err := c.verifier.Verify(&m)
	if err != nil {
		c.logReject(ctx, message, err)
		if errors.Is(err, ErrBadSignature) && c.audit != nil {
			_ = c.audit.Security("telemetry_signature_invalid", map[string]interface{}{
				"node_id":   m.NodeID,
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
		}
		return err
	}
	c.agg.Record(sample.Load, sample.LatencyMS, sample.Reliability)
	return nil
}

func (c *Consumer) logReject(ctx context.Context, message *sarama.ConsumerMessage, err error) {
	if c.log == nil {
		return
	}
	c.log.WarnContext(ctx, "telemetry message rejected",
		utils.ZapString("topic", message.Topic),
		utils.ZapInt("partition", int(message.Partition)),
		utils.ZapInt64("offset", message.Offset),
		utils.ZapError(err))
}
