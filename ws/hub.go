package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minispace/auth"
	"github.com/mqy/minispace/cluster"
	"github.com/mqy/minispace/media"
	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/space"
)

// Hub works as a hub that manages and serves sessions.
type Hub struct {
	cluster.IHub

	wsConf     *protocol.WsConf
	api        *SpaceApi
	authClient auth.Client
	hstore     *HandlerStore
	hubC       chan<- *protocol.HubMsg
	bound      chan struct{} // closed once hubC is set.
	online     atomic.Bool
}

// NewHub creates a `Hub`.
func NewHub(authClient auth.Client, registry *space.Registry, resolver *media.Resolver, wsConf *protocol.WsConf) *Hub {
	return &Hub{
		wsConf:     wsConf,
		api:        NewApi(registry, resolver, wsConf),
		authClient: authClient,
		hstore:     newHandlerStore(),
		bound:      make(chan struct{}),
	}
}

func (h *Hub) bind(hubC chan<- *protocol.HubMsg) {
	h.hubC = hubC
	close(h.bound)
}

// Run implements `cluster.IHub.Run`.
func (h *Hub) Run(ctx context.Context, hubC chan<- *protocol.HubMsg, nodeC <-chan *protocol.NodeMsg,
	stopDoneNotifyC chan<- struct{}) {
	h.bind(hubC)

	for {
		select {
		case <-ctx.Done():
			glog.Infof("close connections ...")
			h.hstore.close()
			glog.Infof("close connections done")
			stopDoneNotifyC <- struct{}{}
			return
		case msg, ok := <-nodeC:
			if !ok {
				return
			}
			glog.V(5).Infof("hub: get node message: %+v", msg)
			for _, sid := range msg.Kickoff {
				h.Kickoff(sid)
			}
		}
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.online.Load() {
		http.Error(w, "This node is temporarily offline", http.StatusServiceUnavailable)
		return
	}

	uid, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &protocol.Session{
		Uid:        uid,
		Sid:        strings.ReplaceAll(uuid.New(), "-", ""),
		CreateTime: time.Now().Unix(),
		Ip:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, uid: %d, err: %s", uid, err)
		return
	}

	// NOTE:  after upgrade, `w.WriteHeader(...)`` causes error `response.Write on hijacked connection`.

	handler := newHandler(h, sess, conn)

	conn.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		handler.close(ReadError)
		return nil
	})

	h.addHandler(handler)

	go handler.recvLoop()
	go handler.sendLoop()
}

func (h *Hub) addHandler(handler *Handler) {
	h.hstore.add(handler)
	h.hubC <- &protocol.HubMsg{SessionOnline: handler.session}
}

func (h *Hub) delHandler(sid string) {
	if h.hstore.del(sid) {
		h.hubC <- &protocol.HubMsg{SessionOffline: sid}
	}
}

// Online implements `cluster.IHub.Online`
func (h *Hub) Online() {
	glog.Infof("Online()")
	<-h.bound
	h.online.Store(true)

	// Sync local sessions to node.
	sessions := h.hstore.shallowCopySessions()
	if len(sessions) == 0 {
		return
	}

	glog.V(5).Infof("Online(): sync %d sessions ...", len(sessions))

	const batch = 1000
	size := len(sessions)
	for i := 0; i < size; i += batch {
		j := i + batch
		if j > size {
			j = size
		}
		h.hubC <- &protocol.HubMsg{
			SyncSessions: sessions[i:j],
		}
	}
}

// Offline implements `cluster.IHub.Offline`
func (h *Hub) Offline() {
	glog.Infof("Offline()")
	h.online.Store(false)
}

// Kickoff sends kickoff to a local session, the session is closed after that.
func (h *Hub) Kickoff(sid string) {
	if s := h.hstore.get(sid); s != nil {
		glog.V(5).Infof("Kickoff(): kickoff local session: %s", s)
		s.appendDataChan(&SessionData{ServerMsg: &protocol.ServerMsg{Kickoff: true}})
	}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x = strings.TrimSpace(x); x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
