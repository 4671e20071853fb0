package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// TransactionEvent is the message streamed after each reconciliation effect.
type TransactionEvent struct {
	Effect      string                   `json:"effect"`
	Transaction models.TransactionRecord `json:"transaction"`
	EmittedAt   time.Time                `json:"emitted_at"`
}

// Producer streams reconciliation outcomes: status transitions on one topic,
// chargeback activity on its own topic for the dispute consumers.
type Producer struct {
	transactions *kafka.Writer
	chargebacks  *kafka.Writer
	enabled      bool
	log          *logger.Logger
}

func NewProducer(cfg config.KafkaConfig, log *logger.Logger) *Producer {
	if !cfg.Enabled || cfg.MockMode {
		log.LogKafka("DISABLED", "", "kafka publishing disabled by configuration")
		return &Producer{enabled: false, log: log}
	}
	return &Producer{
		transactions: kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topics.TransactionEvents,
		}),
		chargebacks: kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topics.ChargebackEvents,
		}),
		enabled: true,
		log:     log,
	}
}

func (p *Producer) PublishTransactionEvent(record models.TransactionRecord, effect string) error {
	return p.publish(p.transactions, record, effect)
}

func (p *Producer) PublishChargebackEvent(record models.TransactionRecord, effect string) error {
	return p.publish(p.chargebacks, record, effect)
}

func (p *Producer) publish(writer *kafka.Writer, record models.TransactionRecord, effect string) error {
	if !p.enabled {
		return nil
	}

	event := TransactionEvent{Effect: effect, Transaction: record, EmittedAt: time.Now()}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.log.LogKafka("PUBLISH", writer.Topic, fmt.Sprintf("%s for transaction %s", effect, record.TransactionID))
	return writer.WriteMessages(context.Background(), kafka.Message{
		// Keying by payment keeps one payment's events in order.
		Key:   []byte(record.PaymentID),
		Value: payload,
	})
}

func (p *Producer) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.transactions.Close(); err != nil {
		return err
	}
	return p.chargebacks.Close()
}
