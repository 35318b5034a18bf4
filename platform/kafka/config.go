package kafka

import (
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Config содержит конфигурацию для подключения к Kafka
type Config struct {
	// Brokers - список брокеров Kafka.
	//   - локальная разработка (go run): localhost:19092
	//   - запуск в Docker: kafka:9092
	// Несколько брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// EscalationTopic - топик для оплат, которые не удалось ни подтвердить, ни сохранить
	EscalationTopic string `env:"KAFKA_ESCALATION_TOPIC" envDefault:"iap.purchase.unrecorded"`
	// WriteTimeout ограничивает запись одного батча
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig возвращает конфигурацию с дефолтными значениями для локальной разработки
func DefaultConfig() Config {
	return Config{
		Brokers:         []string{"localhost:19092"},
		EscalationTopic: "iap.purchase.unrecorded",
		WriteTimeout:    10 * time.Second,
	}
}

// Validate проверяет, что writer можно создать
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.EscalationTopic == "" {
		return errors.New("KAFKA_ESCALATION_TOPIC is required")
	}
	return nil
}

// NewWriter создаёт kafka-go Writer для topic
// Ждём подтверждения от всех реплик: потерянное сообщение здесь - потерянная оплата
func NewWriter(cfg Config, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
}
