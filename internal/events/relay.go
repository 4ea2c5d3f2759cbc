package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

var errStopScan = errors.New("stop scan")

// NewKafkaProducer creates a sync producer that waits for all in-sync
// replicas to acknowledge each message.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return sarama.NewSyncProducer(brokers, cfg)
}

// Relay drains the outbox to a Kafka topic. Delivery is at least once:
// a record is marked ACKED only after the broker acknowledged it.
type Relay struct {
	outbox   *Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

func NewRelay(outbox *Outbox, producer sarama.SyncProducer, topic string, interval time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the relay loop. It stops when ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RelayOnce(); err != nil {
					r.logger.Warn("event relay pass failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// RelayOnce sends every pending record in sequence order and stops at the
// first send failure so ordering is kept. It returns the number of records
// acknowledged.
func (r *Relay) RelayOnce() (int, error) {
	sent := 0
	var sendErr error
	err := r.outbox.ScanPending(func(rec Record) error {
		if err := r.outbox.Mark(rec, StateSent); err != nil {
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: r.topic,
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if rec.Key != "" {
			msg.Key = sarama.StringEncoder(rec.Key)
		}
		if _, _, err := r.producer.SendMessage(msg); err != nil {
			sendErr = err
			return errStopScan
		}
		sent++
		return r.outbox.Mark(rec, StateAcked)
	})
	if err != nil && err != errStopScan {
		return sent, err
	}
	if _, err := r.outbox.Purge(); err != nil {
		return sent, err
	}
	return sent, sendErr
}

// Close closes the producer.
func (r *Relay) Close() error {
	return r.producer.Close()
}
