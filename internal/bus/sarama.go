package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
)

// SaramaBus publishes to and consumes from a Kafka-compatible broker set
// using Sarama's synchronous producer and consumer-group APIs. Topic
// creation and retention are provisioned externally; SaramaBus only
// validates the topic exists at startup (in NewSaramaBus).
type SaramaBus struct {
	cfg      config.BusConfig
	client   sarama.Client
	producer sarama.SyncProducer

	mu       sync.Mutex
	group    sarama.ConsumerGroup
	handler  *groupHandler
	cancelFn context.CancelFunc
}

// NewSaramaBus dials brokers and opens a synchronous producer. Consumer
// group construction is deferred to Subscribe, since the group name is a
// subscribe-time parameter (the ingest gateway never subscribes at all).
func NewSaramaBus(cfg config.BusConfig) (*SaramaBus, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = requiredAcks(cfg.RequiredAcks)
	saramaCfg.Producer.Timeout = cfg.ProduceTimeout
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("bus: failed to create client: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bus: failed to create producer: %w", err)
	}

	if _, err := client.Partitions(cfg.Topic); err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("bus: topic %q not available: %w", cfg.Topic, err)
	}

	return &SaramaBus{cfg: cfg, client: client, producer: producer}, nil
}

func requiredAcks(s string) sarama.RequiredAcks {
	switch s {
	case "none":
		return sarama.NoResponse
	case "local":
		return sarama.WaitForLocal
	default:
		return sarama.WaitForAll
	}
}

// Publish implements Bus.
func (b *SaramaBus) Publish(ctx context.Context, key, payload []byte) error {
	return b.PublishBatch(ctx, key, [][]byte{payload})
}

// PublishBatch implements Bus.
func (b *SaramaBus) PublishBatch(ctx context.Context, key []byte, payloads [][]byte) error {
	msgs := make([]*sarama.ProducerMessage, len(payloads))
	for i, p := range payloads {
		msgs[i] = &sarama.ProducerMessage{
			Topic: b.cfg.Topic,
			Key:   sarama.ByteEncoder(key),
			Value: sarama.ByteEncoder(p),
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.producer.SendMessages(msgs)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return classifyError(err)
		}
		return nil
	}
}

// Subscribe implements Bus, joining group and emitting records from every
// partition assigned to this member across rebalances.
func (b *SaramaBus) Subscribe(ctx context.Context, group string) (<-chan Record, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = b.cfg.ClientID
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	cg, err := sarama.NewConsumerGroup(b.cfg.Brokers, group, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("bus: failed to create consumer group: %w", err)
	}

	out := make(chan Record, 256)
	handler := &groupHandler{out: out}

	b.mu.Lock()
	b.group = cg
	b.handler = handler
	subCtx, cancel := context.WithCancel(ctx)
	b.cancelFn = cancel
	b.mu.Unlock()

	go func() {
		defer close(out)
		for {
			if err := cg.Consume(subCtx, []string{b.cfg.Topic}, handler); err != nil {
				if subCtx.Err() != nil {
					return
				}
				logger.Log.Error("bus: consume error", "error", err)
			}
			if subCtx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range cg.Errors() {
			logger.Log.Error("bus: consumer group error", "error", err)
		}
	}()

	return out, nil
}

// CommitOffset implements Bus. Sarama's consumer-group session already owns
// the mark/commit sequencing; groupHandler.Setup records the current
// session, so the actual work here is handing that session a MarkOffset
// call for the record's next offset.
func (b *SaramaBus) CommitOffset(_ context.Context, rec Record) error {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()

	if h == nil {
		return fmt.Errorf("bus: no active subscription")
	}
	h.markOffset(rec)
	return nil
}

// Close implements Bus.
func (b *SaramaBus) Close() error {
	b.mu.Lock()
	if b.cancelFn != nil {
		b.cancelFn()
	}
	group := b.group
	b.mu.Unlock()

	if group != nil {
		_ = group.Close()
	}
	if err := b.producer.Close(); err != nil {
		return err
	}
	return b.client.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler, fanning every claim's
// messages into a single shared channel and remembering the live session so
// CommitOffset can mark consumed records.
type groupHandler struct {
	out     chan<- Record
	mu      sync.Mutex
	session sarama.ConsumerGroupSession
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.mu.Lock()
	h.session = nil
	h.mu.Unlock()
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		rec := Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Timestamp: msg.Timestamp,
		}
		select {
		case h.out <- rec:
		case <-session.Context().Done():
			return nil
		}
	}
	return nil
}

func (h *groupHandler) markOffset(rec Record) {
	h.mu.Lock()
	s := h.session
	h.mu.Unlock()
	if s == nil {
		return
	}
	s.MarkOffset(rec.Topic, rec.Partition, rec.Offset+1, "")
}
