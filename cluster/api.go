package cluster

//go:generate mockgen -destination=mock/mock_kafka.go -package=cluster_mock github.com/mqy/minispace/cluster IKafkaReader,IKafkaWriter

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/space"
)

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type ICluster interface {
	Run(ctx context.Context, stopNotifyCh chan<- struct{})
}

// IHub provides interfaces of local Hub.
type IHub interface {
	Run(context.Context, chan<- *protocol.HubMsg, <-chan *protocol.NodeMsg, chan<- struct{})
	Online()
	Offline()
}

// ISpaces looks up spaces held in memory by this node.
type ISpaces interface {
	Lookup(spaceID string) *space.Space
}
