package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mqy/minispace/protocol"
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

func writeEvent(kafkaWriter IKafkaWriter, e *protocol.KafkaEvent, limit int) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("error marshal event: %+v, err: %w", e, err)
	}
	if len(value) > limit {
		return fmt.Errorf("event exceeds max limit: %d bytes", limit)
	}

	km := kafka.Message{
		Key:   []byte(e.SpaceID),
		Value: value,
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := kafkaWriter.WriteMessages(ctx2, km); err != nil {
		return fmt.Errorf("error write to kafka: %w", err)
	}
	return nil
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
		return
	}
	*d = time.Duration(float64(*d) * BackoffMultiplier)
	if *d > BackoffMaxInterval {
		*d = BackoffMaxInterval
	} else {
		*d = d.Truncate(time.Millisecond)
	}
}
