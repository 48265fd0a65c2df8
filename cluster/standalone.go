package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"

	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/space"
)

const (
	kafkaReadTimeout  = 10 * time.Second
	kafkaWriteTimeout = 10 * time.Second
)

type ClusterCfg struct {
	Pid  int
	Addr string
	Hub  IHub
	Mux  *http.ServeMux

	// optional, serves gRPC on the same port.
	GrpcServer *grpc.Server

	Registry *space.Registry

	// empty disables fan-out.
	KafkaBrokers []string
	KafkaTopic   string

	EventPayloadMaxBytes int32
	EventMaxAge          time.Duration

	SessionQuota  int32
	SweepInterval time.Duration
	SpaceIdleTTL  time.Duration
}

// Standalone runs one node: http server, websocket hub, idle space sweeping and kafka fan-out.
type Standalone struct {
	ICluster

	conf         *ClusterCfg
	nodeId       string
	httpServer   *http.Server
	fanout       *Fanout
	sessionStore *SessionStore

	recvMsgChan chan *protocol.HubMsg
	sendMsgChan chan *protocol.NodeMsg
}

func NewStandalone(conf *ClusterCfg) *Standalone {
	s := &Standalone{
		conf:         conf,
		nodeId:       fmt.Sprintf("%s_%d", conf.Addr, conf.Pid),
		sessionStore: newSessionStore(),
		recvMsgChan:  make(chan *protocol.HubMsg, 8),
		sendMsgChan:  make(chan *protocol.NodeMsg, 8),
	}

	if len(conf.KafkaBrokers) > 0 {
		kafkaReader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: conf.KafkaBrokers,
			// one group per node: every node sees every event.
			GroupID: s.nodeId,
			Topic:   conf.KafkaTopic,
			Dialer: &kafka.Dialer{
				Timeout:   kafkaReadTimeout,
				DualStack: true,
			},
		})
		kafkaWriter := kafka.NewWriter(kafka.WriterConfig{
			Brokers:  conf.KafkaBrokers,
			Topic:    conf.KafkaTopic,
			Balancer: &kafka.Hash{},
			Dialer: &kafka.Dialer{
				Timeout:   kafkaWriteTimeout,
				DualStack: true,
			},
		})
		s.fanout = NewFanout(s.nodeId, conf.Registry, kafkaReader, kafkaWriter,
			conf.EventPayloadMaxBytes, conf.EventMaxAge)
		conf.Registry.SetPublisher(s.fanout)
	}

	var handler http.Handler = s
	if conf.GrpcServer != nil {
		handler = h2c.NewHandler(s, &http2.Server{})
	}
	s.httpServer = &http.Server{Handler: handler}
	return s
}

func (s *Standalone) Run(ctx context.Context, stopNotifyCh chan<- struct{}) {
	glog.Infof("standalone node %s is starting", s.nodeId)

	lis, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		err := fmt.Errorf("listen %s error: %v", s.conf.Addr, err)
		glog.Error(err)
		panic(err)
	}

	go func() {
		glog.Infof("http server is listening %v", s.conf.Addr)
		if err := s.httpServer.Serve(lis); errors.Is(err, http.ErrServerClosed) {
			glog.Infof("http server closed")
		} else if err != nil {
			err := fmt.Errorf("error serve http mux server: %v", err)
			glog.Error(err)
			panic(err)
		}
	}()

	// clean session ticker.
	sessionTicker := time.NewTicker(5 * time.Minute)
	sweepTicker := time.NewTicker(s.conf.SweepInterval)

	fanoutStopDoneC := make(chan struct{})
	hubStopDoneC := make(chan struct{})

	defer func() {
		sessionTicker.Stop()
		sweepTicker.Stop()
		s.httpServer.Shutdown(context.Background())
		glog.Infof("standalone node: http server shutdown done")

		if s.conf.GrpcServer != nil {
			s.conf.GrpcServer.Stop()
		}

		if s.fanout != nil {
			<-fanoutStopDoneC
			glog.Infof("standalone node: fanout stopped")
		}
		close(fanoutStopDoneC)

		<-hubStopDoneC
		close(hubStopDoneC)
		glog.Infof("standalone node: hub stopped")

		close(s.sendMsgChan)
		glog.Infof("standalone node: stopped")
		stopNotifyCh <- struct{}{}
	}()

	if s.fanout != nil {
		go s.fanout.run(ctx, fanoutStopDoneC)
	}
	go s.conf.Hub.Run(ctx, s.recvMsgChan, s.sendMsgChan, hubStopDoneC)
	s.conf.Hub.Online()

	glog.Infof("standalone node is blocking at recv loop")

	for {
		select {
		case <-ctx.Done():
			s.conf.Hub.Offline()
			glog.Infof("standalone node is stopping")
			return
		case <-sessionTicker.C:
			if slice := s.sessionStore.gc(s.conf.SessionQuota); len(slice) > 0 {
				s.kickoff(slice)
			}
		case <-sweepTicker.C:
			s.conf.Registry.Sweep(s.conf.SpaceIdleTTL)
		case msg := <-s.recvMsgChan:
			s.handleHubMsg(msg)
		}
	}
}

func (s *Standalone) handleHubMsg(msg *protocol.HubMsg) {
	if v := msg.SessionOnline; v != nil {
		s.sessionStore.add(v)
		if v := s.sessionStore.getUserSessionsToKickoff(v.Uid, s.conf.SessionQuota); len(v) > 0 {
			s.kickoff(v)
		}
	} else if v := msg.SessionOffline; v != "" {
		s.sessionStore.del(v)
	} else if v := msg.SyncSessions; len(v) > 0 {
		s.sessionStore.add(v...)
	} else {
		panic(fmt.Sprintf("unknown hub message: %#+v", msg))
	}
}

func (s *Standalone) kickoff(sessions []*protocol.Session) {
	var sids []string
	now := time.Now().Unix()
	for _, sess := range sessions {
		sess.KickoffTime = now
		sids = append(sids, sess.Sid)
	}
	glog.V(5).Infof("kickoff sessions: %v", sids)
	s.sendMsgChan <- &protocol.NodeMsg{Kickoff: sids}
}

func (s *Standalone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.conf.GrpcServer != nil && r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("content-type"), "application/grpc") {
		s.conf.GrpcServer.ServeHTTP(w, r)
	} else {
		s.conf.Mux.ServeHTTP(w, r)
	}
}
