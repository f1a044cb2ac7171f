package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/bytedance/sonic"

	"esminify/sink"
)

func withMockProducer(t *testing.T, check func(*sarama.Config)) *mocks.SyncProducer {
	t.Helper()
	mp := mocks.NewSyncProducer(t, nil)
	prev := newProducer
	newProducer = func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error) {
		if check != nil {
			check(sc)
		}
		return mp, nil
	}
	t.Cleanup(func() { newProducer = prev })
	return mp
}

func TestPush_PublishesDiagnostic(t *testing.T) {
	mp := withMockProducer(t, func(sc *sarama.Config) {
		if sc.Producer.RequiredAcks != sarama.WaitForAll {
			t.Errorf("acks = %v, want WaitForAll", sc.Producer.RequiredAcks)
		}
	})
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var d sink.Diagnostic
		if err := sonic.Unmarshal(val, &d); err != nil {
			return err
		}
		if d.Severity != sink.SeverityError || d.Message != "boom" {
			t.Errorf("unexpected diagnostic %+v", d)
		}
		return nil
	})

	s, err := sink.NewAdapter("kafka")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Configure(Config{Brokers: []string{"broker:9092"}, Topic: "build-diagnostics", Acks: -1}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.Push(sink.Diagnostic{Severity: sink.SeverityError, Message: "boom"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestPush_SendFailure(t *testing.T) {
	mp := withMockProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := &driver{}
	if err := s.Configure(Config{Brokers: []string{"b"}, Topic: "t"}); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Push(sink.Diagnostic{Severity: sink.SeverityWarning, Message: "w"}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestConfigure_RequiresTopic(t *testing.T) {
	if err := (&driver{}).Configure(Config{Brokers: []string{"b"}}); err == nil {
		t.Fatal("expected error without topic")
	}
}
