package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/protocol"
)

const (
	publishQueueSize = 256
)

// Fanout publishes committed changes of local spaces to kafka, and applies changes committed
// by other nodes to the spaces held by this node. Spaces not in memory are skipped: they load
// the change from store when created.
type Fanout struct {
	origin        string
	spaces        ISpaces
	kafkaReader   IKafkaReader
	kafkaWriter   IKafkaWriter
	valueMaxBytes int32
	maxAge        time.Duration

	pubChan chan *protocol.KafkaEvent
	wg      sync.WaitGroup
}

// NewFanout creates a fan-out. `maxAge` <= 0 disables dropping old events.
func NewFanout(origin string, spaces ISpaces, kafkaReader IKafkaReader, kafkaWriter IKafkaWriter,
	valueMaxBytes int32, maxAge time.Duration) *Fanout {
	return &Fanout{
		origin:        origin,
		spaces:        spaces,
		kafkaReader:   kafkaReader,
		kafkaWriter:   kafkaWriter,
		valueMaxBytes: valueMaxBytes,
		maxAge:        maxAge,
		pubChan:       make(chan *protocol.KafkaEvent, publishQueueSize),
	}
}

// PublishMessage implements `space.Publisher`.
func (f *Fanout) PublishMessage(spaceID string, msg *chatstore.Message) {
	f.enqueue(&protocol.KafkaEvent{Origin: f.origin, SpaceID: spaceID, Message: msg})
}

// PublishMorph implements `space.Publisher`.
func (f *Fanout) PublishMorph(spaceID string, t morph.Type) {
	f.enqueue(&protocol.KafkaEvent{Origin: f.origin, SpaceID: spaceID, SpaceType: t})
}

// PublishReaction implements `space.Publisher`.
func (f *Fanout) PublishReaction(spaceID, msgID string, r chatstore.Reaction) {
	f.enqueue(&protocol.KafkaEvent{Origin: f.origin, SpaceID: spaceID,
		Reaction: &protocol.KafkaReaction{MsgID: msgID, UserID: r.UserID, Reaction: r.Reaction}})
}

// enqueue never blocks the caller, the event is dropped when the queue is full.
func (f *Fanout) enqueue(e *protocol.KafkaEvent) {
	select {
	case f.pubChan <- e:
	default:
		glog.Errorf("fanout: publish queue full, drop event of space `%s`", e.SpaceID)
	}
}

// run blocks until ctx is done.
func (f *Fanout) run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("fanout: enter")

	f.wg.Add(2)
	go f.consumeLoop(ctx)
	go f.publishLoop(ctx)

	glog.Info("fanout: ready")
	<-ctx.Done()

	glog.Info("fanout: stopping")
	_ = f.kafkaReader.Close() // slow: take about 7s
	f.wg.Wait()
	_ = f.kafkaWriter.Close()

	glog.Info("fanout: stopped")
	stopDoneNotifyC <- struct{}{}
}

func (f *Fanout) publishLoop(ctx context.Context) {
	glog.Info("fanout: publish loop enter")
	defer func() {
		glog.Info("fanout: publish loop exit")
		f.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.pubChan:
			if err := writeEvent(f.kafkaWriter, e, int(f.valueMaxBytes)); err != nil {
				// Just ignore: other nodes load it from store.
				glog.Errorf("fanout: publish event of space `%s` error: %v", e.SpaceID, err)
			}
		}
	}
}

func (f *Fanout) consumeLoop(ctx context.Context) {
	glog.Info("fanout: consume loop enter")
	defer func() {
		glog.Info("fanout: consume loop exited")
		f.wg.Done()
	}()

	var sleep time.Duration

	for {
		glog.V(7).Info("fanout: fetching message ...")
		msg, err := f.kafkaReader.FetchMessage(ctx)
		if err != nil {
			glog.Errorf("fanout: fetch from kafka err: %v", err)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				glog.V(5).Info("fanout: fetch was cancelled")
				return
			}
			backoff(&sleep)
			select {
			case <-time.After(sleep):
				continue
			case <-ctx.Done():
				return
			}
		}
		sleep = 0

		// skip: bad format, too old or own.
		if e := f.decodeKafkaMsg(&msg); e != nil {
			f.apply(e)
		}

		for {
			err := f.kafkaReader.CommitMessages(ctx, msg)
			if err == nil {
				sleep = 0
				break
			}
			// If this message is not committed back, it will be fetched by in next FetchMessage().
			// Applying it twice is a no-op.
			glog.Errorf("fanout: commit to kafka err: %v", err)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				glog.V(5).Info("fanout: commit to kafka was cancelled")
				return
			}
			backoff(&sleep)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (f *Fanout) apply(e *protocol.KafkaEvent) {
	sp := f.spaces.Lookup(e.SpaceID)
	if sp == nil {
		glog.V(7).Infof("fanout: space `%s` not loaded, skip", e.SpaceID)
		return
	}

	if e.Message != nil {
		if sp.ObserveRemote(e.Message) {
			glog.V(5).Infof("fanout: space `%s` observed message %s from %s", e.SpaceID, e.Message.ID, e.Origin)
		}
		return
	}

	if r := e.Reaction; r != nil {
		if sp.ObserveRemoteReaction(r.MsgID, chatstore.Reaction{UserID: r.UserID, Reaction: r.Reaction}) {
			glog.V(5).Infof("fanout: space `%s` observed reaction on %s from %s", e.SpaceID, r.MsgID, e.Origin)
		}
		return
	}

	t, err := morph.ParseType(string(e.SpaceType))
	if err != nil {
		glog.Errorf("fanout: space `%s` from %s: %v", e.SpaceID, e.Origin, err)
		return
	}
	if sp.ApplyRemoteType(t) {
		glog.V(5).Infof("fanout: space `%s` morphed to %s by %s", e.SpaceID, t, e.Origin)
	}
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func (f *Fanout) shouldDiscard(msg *kafka.Message) bool {
	return f.maxAge > 0 && time.Since(msg.Time) > f.maxAge
}

func (f *Fanout) decodeKafkaMsg(msg *kafka.Message) *protocol.KafkaEvent {
	if len(msg.Value) > int(f.valueMaxBytes) {
		glog.Errorf("fanout: kafka value out of limit, offset: %d, size: %d", msg.Offset, len(msg.Value))
		return nil
	}
	var v protocol.KafkaEvent
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		glog.Errorf("fanout: failed to unmarshal kafka msg value: `%s`, error: %v", msg.Value, err)
		return nil
	}
	if v.SpaceID == "" || countSet(v.Message != nil, v.Reaction != nil, v.SpaceType != "") != 1 {
		glog.Errorf("fanout: ignore malformed event, offset: %d", msg.Offset)
		return nil
	}
	if r := v.Reaction; r != nil && (r.MsgID == "" || r.Reaction == "") {
		glog.Errorf("fanout: ignore malformed reaction, offset: %d", msg.Offset)
		return nil
	}
	if v.Origin == f.origin {
		return nil
	}
	if f.shouldDiscard(msg) {
		glog.Errorf("fanout: ignore incoming message because too old, msg.Offset: %d, msg.Time: %s", msg.Offset, msg.Time)
		return nil
	}
	return &v
}
