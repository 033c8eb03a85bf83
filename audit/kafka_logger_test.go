package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaSink_Log(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	producer := mocks.NewAsyncProducer(t, cfg)

	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got map[string]any
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got["action"] != ActionUserBlocked || got["adminId"] != "u1" {
			return fmt.Errorf("unexpected payload %s", val)
		}
		return nil
	})

	sink := newKafkaSink(producer, "system.audit.events", nil)
	if err := sink.Log(context.Background(), SecurityAction(ActionUserBlocked, "u2", "u1")); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
