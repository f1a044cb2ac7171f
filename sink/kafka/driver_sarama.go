package kafka

import (
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/bytedance/sonic"

	"esminify/sink"
)

type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Acks     int16    `yaml:"required_acks"` // 0,1,-1
	ClientID string   `yaml:"client_id"`
}

// newProducer is swapped in tests.
var newProducer = func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, sc)
}

type driver struct {
	cfg Config

	mu sync.Mutex
	p  sarama.SyncProducer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config")
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	p, err := newProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p = p
	return nil
}

// Push publishes d keyed by severity so errors and warnings land on stable
// partitions.
func (d *driver) Push(diag sink.Diagnostic) error {
	val, err := sonic.Marshal(diag)
	if err != nil {
		return fmt.Errorf("kafka-sink: encode: %w", err)
	}
	d.mu.Lock()
	p := d.p
	d.mu.Unlock()
	if p == nil {
		return fmt.Errorf("kafka-sink: not configured")
	}
	_, _, err = p.SendMessage(&sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.StringEncoder(diag.Severity),
		Value: sarama.ByteEncoder(val),
	})
	return err
}

func (d *driver) Close() error {
	d.mu.Lock()
	p := d.p
	d.p = nil
	d.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
