package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/protocol"
)

// The demo mocks a bot that posts into a space through `kafka`; every node
// with the space loaded shows the posts, every 5th tick morphs the space.

// kafka-topics.sh --bootstrap-server localhost:9092 --topic minispace-events --create
// kafka-topics.sh --bootstrap-server localhost:9092 --topic minispace-events --delete

var (
	kafkaBrokers   = flag.String("kafka-brokers", "127.0.0.1:9092", "kafka brokers, ',' delimitted.")
	kafkaTopic     = flag.String("kafka-topic", "minispace-events", "kafka topic")
	spaceID        = flag.String("space-id", "demo", "space to post into")
	botUid         = flag.Int("bot-uid", 1000, "author id of posts")
	tickerDuration = flag.Duration("ticker-duration", 30*time.Second, "ticker duration")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if len(*kafkaBrokers) == 0 {
		glog.Fatal("--kafka-brokers is required.")
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  strings.Split(*kafkaBrokers, ","),
		Topic:    *kafkaTopic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	defer w.Close()

	ticker := time.NewTicker(*tickerDuration)
	defer ticker.Stop()

	types := []morph.Type{morph.Whiteboard, morph.Brainstorm, morph.Document, morph.Meeting}
	for i := 1; ; i++ {
		<-ticker.C

		evt := &protocol.KafkaEvent{Origin: "demo", SpaceID: *spaceID}
		if i%5 == 0 {
			evt.SpaceType = types[(i/5)%len(types)]
		} else {
			evt.Message = &chatstore.Message{
				// far above auto increment ids of the store.
				ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
				SpaceID:   *spaceID,
				AuthorID:  int32(*botUid),
				Content:   fmt.Sprintf("hello #%d", i),
				Type:      chatstore.MsgType_Text,
				CreatedAt: time.Now(),
				Status:    chatstore.Status_Confirmed,
			}
		}

		value, err := json.Marshal(evt)
		if err != nil {
			glog.Fatal(err)
		}
		if err := w.WriteMessages(context.Background(), kafka.Message{
			Key:   []byte(*spaceID),
			Value: value,
		}); err != nil {
			glog.Errorf("write kafka message error: %v", err)
			continue
		}
		glog.Infof("sent: %s", value)
	}
}
