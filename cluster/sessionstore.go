package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/mqy/minispace/protocol"
)

const (
	// duration to delete a session since last kickoff
	deleteSinceKickoffTTL = 60 // seconds
)

// SessionStore holds the websocket sessions of this node, to enforce per user quota.
type SessionStore struct {
	sync.Mutex

	// sid -> session
	kv map[string]*protocol.Session
}

func newSessionStore() *SessionStore {
	return &SessionStore{
		kv: make(map[string]*protocol.Session),
	}
}

func (s *SessionStore) add(sessions ...*protocol.Session) {
	s.Lock()
	for _, sess := range sessions {
		s.kv[sess.Sid] = sess
	}
	s.Unlock()
}

func (s *SessionStore) del(sid string) {
	s.Lock()
	delete(s.kv, sid)
	s.Unlock()
}

func (s *SessionStore) len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.kv)
}

// getUserSessionsToKickoff returns the oldest sessions of `uid` beyond quota, order by ctime asc.
func (s *SessionStore) getUserSessionsToKickoff(uid int32, quota int32) []*protocol.Session {
	var slice []*protocol.Session
	s.Lock()
	defer s.Unlock()
	for _, sess := range s.kv {
		if sess.Uid == uid && sess.KickoffTime == 0 {
			slice = append(slice, sess)
		}
	}
	return overQuota(slice, quota)
}

// gc deletes sessions not deleted by hub after kickoff, returns live sessions to kickoff.
func (s *SessionStore) gc(quota int32) []*protocol.Session {
	now := time.Now().Unix()
	s.Lock()
	defer s.Unlock()

	userSessions := make(map[int32][]*protocol.Session)
	for sid, sess := range s.kv {
		if sess.KickoffTime > 0 {
			if now > sess.KickoffTime+deleteSinceKickoffTTL {
				delete(s.kv, sid)
			}
			continue
		}
		userSessions[sess.Uid] = append(userSessions[sess.Uid], sess)
	}

	var kickoff []*protocol.Session
	for _, slice := range userSessions {
		kickoff = append(kickoff, overQuota(slice, quota)...)
	}
	return kickoff
}

func overQuota(slice []*protocol.Session, quota int32) []*protocol.Session {
	n := len(slice) - int(quota)
	if quota <= 0 || n <= 0 {
		return nil
	}
	sort.Slice(slice, func(i, j int) bool {
		if slice[i].CreateTime == slice[j].CreateTime {
			return slice[i].Sid < slice[j].Sid
		}
		return slice[i].CreateTime < slice[j].CreateTime
	})
	return slice[:n]
}
