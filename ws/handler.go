package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/space"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
	KickedOff  SessionError = 6
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	// Recommend configure nginx with `keep-alive_timeout` >= 65s.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096

	dataChanSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Fix error: request origin not allowed by Upgrader.CheckOrigin
	CheckOrigin: func(r *http.Request) bool {
		// When the node is behind nginx the host differs from origin.
		return true
	},
}

// Handler managers an active connection to end user.
// Every new websocket connection creates a new session.
type Handler struct {
	sync.Mutex

	api *SpaceApi
	hub *Hub

	session *protocol.Session
	conn    *websocket.Conn
	limiter *rate.Limiter

	// never closed: senders select on done.
	dataChan chan *SessionData
	done     chan struct{}
	closing  bool

	joinLock sync.Mutex
	// space id -> leave func
	joined map[string]func()
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error     SessionError        `json:"error,omitempty"`
	ServerMsg *protocol.ServerMsg `json:"resp,omitempty"`
}

func newHandler(hub *Hub, sess *protocol.Session, conn *websocket.Conn) *Handler {
	limit := rate.Inf
	if hub.wsConf.RateLimit > 0 {
		limit = rate.Limit(hub.wsConf.RateLimit)
	}
	burst := hub.wsConf.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Handler{
		api:      hub.api,
		hub:      hub,
		session:  sess,
		conn:     conn,
		limiter:  rate.NewLimiter(limit, burst),
		dataChan: make(chan *SessionData, dataChanSize),
		done:     make(chan struct{}),
		joined:   make(map[string]func()),
	}
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}

	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.done)
	h.Unlock()

	// leave outside of the lock: leaving notifies other handlers.
	h.leaveAll()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		// Ask for node to remove this handler.
		h.hub.delHandler(h.session.Sid)
	}
}

// appendDataChan blocks until the send loop takes `v` or the handler is closed.
func (h *Handler) appendDataChan(v *SessionData) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.dataChan <- v:
	case <-h.done:
	}
}

// pushEvent never blocks the notifying space, the event is dropped for a slow peer.
func (h *Handler) pushEvent(e space.Event) {
	msg := &protocol.ServerMsg{Event: h.api.renderEvent(&e)}
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.dataChan <- &SessionData{ServerMsg: msg}:
	case <-h.done:
	default:
		glog.Errorf("session %s: data chan full, drop event %s of space `%s`", h.session.Sid, e.Kind, e.SpaceID)
	}
}

func sendServerMsg(conn *websocket.Conn, msg *protocol.ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) join(ctx context.Context, req *protocol.JoinReq) (*protocol.JoinResp, *protocol.Error) {
	resp, leave, err := h.api.Join(ctx, h.session.Uid, req, h.pushEvent)
	if err != nil {
		return nil, err
	}

	h.joinLock.Lock()
	prev := h.joined[req.SpaceID]
	h.joined[req.SpaceID] = leave
	h.joinLock.Unlock()

	if prev != nil {
		prev()
	}

	select {
	case <-h.done:
		h.leaveAll()
	default:
	}
	return resp, nil
}

func (h *Handler) leave(req *protocol.LeaveReq) *protocol.LeaveResp {
	h.joinLock.Lock()
	leave := h.joined[req.SpaceID]
	delete(h.joined, req.SpaceID)
	h.joinLock.Unlock()

	if leave != nil {
		leave()
	}
	return &protocol.LeaveResp{SpaceID: req.SpaceID}
}

func (h *Handler) leaveAll() {
	h.joinLock.Lock()
	joined := h.joined
	h.joined = make(map[string]func())
	h.joinLock.Unlock()

	for _, leave := range joined {
		leave()
	}
}

// dispatch serves one request, returns nil for unsupported request.
func (h *Handler) dispatch(ctx context.Context, req *protocol.ClientMsg) *protocol.ServerMsg {
	uid := h.session.Uid
	out := &protocol.ServerMsg{}
	var err *protocol.Error

	if v := req.Join; v != nil {
		out.Join, err = h.join(ctx, v)
	} else if v := req.Leave; v != nil {
		out.Leave = h.leave(v)
	} else if v := req.Send; v != nil {
		out.Send, err = h.api.Send(ctx, uid, v)
	} else if v := req.Retry; v != nil {
		out.Retry, err = h.api.Retry(ctx, uid, v)
	} else if v := req.React; v != nil {
		out.React, err = h.api.React(ctx, uid, v)
	} else if v := req.MarkRead; v != nil {
		out.MarkRead, err = h.api.MarkRead(ctx, uid, v)
	} else if v := req.Stats; v != nil {
		out.Stats, err = h.api.Stats(ctx, uid, v)
	} else if v := req.Morph; v != nil {
		out.Morph, err = h.api.Morph(ctx, uid, v)
	} else if v := req.Suggest; v != nil {
		out.Suggest, err = h.api.Suggest(ctx, uid, v)
	} else if v := req.Entangle; v != nil {
		out.Entangle, err = h.api.Entangle(ctx, uid, v)
	} else if v := req.Echo; v != nil {
		out.Echo, err = h.api.Echo(ctx, uid, v)
	} else if v := req.Trigger; v != nil {
		out.Trigger, err = h.api.Trigger(ctx, uid, v)
	} else if v := req.Collapse; v != nil {
		out.Collapse, err = h.api.Collapse(ctx, uid, v)
	} else if v := req.Snapshot; v != nil {
		out.Snapshot, err = h.api.Snapshot(ctx, uid, v)
	} else {
		return nil
	}

	if err != nil {
		glog.Errorf("dispatch(): uid: %d, error: %+v", uid, err)
		interceptError(err)
		out.Error = err
	}
	return out
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.Errorf("recvLoop(): read error: %v", err)
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.appendDataChan(&SessionData{ServerMsg: &protocol.ServerMsg{
				Error: newInvalidArgumentError(nil, "websocket only supports TextMessage"),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := protocol.ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.appendDataChan(&SessionData{ServerMsg: &protocol.ServerMsg{
				Error: newInvalidArgumentError(nil, fmt.Sprintf("unmarshal error: %v", err)),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		if !h.limiter.Allow() {
			h.appendDataChan(&SessionData{ServerMsg: &protocol.ServerMsg{
				Error: newRateLimitedError(&req, h.hub.wsConf.RateLimit),
			}})
			continue
		}

		resp := h.dispatch(context.Background(), &req)
		if resp == nil {
			glog.Errorf("recvLoop(): unsupported request: %s", string(msg))
			h.appendDataChan(&SessionData{ServerMsg: &protocol.ServerMsg{
				Error: newInvalidArgumentError(&req, "unsupported request"),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}
		h.appendDataChan(&SessionData{ServerMsg: resp})
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case <-h.done:
			h.conn.Close()
			glog.V(5).Infof("sendLoop(): handler closed, session: %s", h.String())
			return
		case v := <-h.dataChan:

			if glog.V(5) {
				dataJson, _ := json.Marshal(v)
				logValue := string(dataJson)
				if len(logValue) > 100 {
					logValue = logValue[:100] + " ..."
				}
				glog.Infof("sendLoop(), get from data chan, value: %s, session: %s", logValue, h.String())
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			} else if v.ServerMsg == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}

			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h.String(), err)
				h.close(WriteError)
				return
			}
			if v.ServerMsg.Kickoff {
				h.close(KickedOff)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}
