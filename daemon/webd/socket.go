package webd

import (
	"encoding/json"
	"log"
	"log/slog"

	"github.com/olahol/melody"
	"github.com/strideworks/trackd/events"
	"github.com/strideworks/trackd/metrics"
	"github.com/strideworks/trackd/session"
	"github.com/strideworks/trackd/types/run"
)

type websocketAction string

var (
	websocketActionMetrics websocketAction = "metrics"
	websocketActionStatus  websocketAction = "status"
	websocketActionWarning websocketAction = "warning"
	websocketActionRun     websocketAction = "run"
)

type broadcast struct {
	Action  websocketAction     `json:"action"`
	User    string              `json:"user"`
	Metrics *metrics.RunMetrics `json:"metrics,omitempty"`
	Status  session.Status      `json:"status,omitempty"`
	Warning *session.Warning    `json:"warning,omitempty"`
	Run     *run.Record         `json:"run,omitempty"`
}

// initMelody sets up the websocket handler.
func (s *WebDaemon) initMelody() {
	s.melodyInstance = melody.New()

	s.melodyInstance.HandleConnect(func(sess *melody.Session) {
		log.Println("[websocket] connected", sess.Request.RemoteAddr)
	})

	// Right now don't care about incoming messages from clients. Drop.
	s.melodyInstance.HandleMessage(func(sess *melody.Session, b []byte) {})

	s.melodyInstance.HandleDisconnect(func(sess *melody.Session) {
		log.Println("[websocket] disconnected", sess.Request.RemoteAddr)
	})

	s.melodyInstance.HandleError(func(sess *melody.Session, e error) {
		log.Println("[websocket] error", e, sess.Request.RemoteAddr)
	})
}

// watchStoredRuns mirrors every persisted run onto the websocket, so
// clients showing a run list can refresh without polling.
func (s *WebDaemon) watchStoredRuns() {
	ch := make(chan *run.Record, 8)
	sub := events.StoredRunFeed.Subscribe(ch)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case rec := <-ch:
				s.broadcastJSON(broadcast{Action: websocketActionRun, User: rec.UserID, Run: rec})
			case err := <-sub.Err():
				if err != nil {
					slog.Error("Stored run feed subscription failed", "error", err)
				}
				return
			}
		}
	}()
}

// watchSession mirrors one session's feeds onto the websocket.
// Live metrics after every accepted point and tick, lifecycle changes,
// and warnings, all as they happen. Subscriptions die with the session.
func (s *WebDaemon) watchSession(userID string, sess *session.Session) {
	metricsCh := make(chan metrics.RunMetrics, 8)
	statusCh := make(chan session.Status, 2)
	warningCh := make(chan session.Warning, 2)
	metricsSub := sess.SubscribeMetrics(metricsCh)
	statusSub := sess.SubscribeStatus(statusCh)
	warningSub := sess.SubscribeWarnings(warningCh)

	go func() {
		defer metricsSub.Unsubscribe()
		defer statusSub.Unsubscribe()
		defer warningSub.Unsubscribe()
		for {
			var bc broadcast
			select {
			case m := <-metricsCh:
				bc = broadcast{Action: websocketActionMetrics, User: userID, Metrics: &m}
			case st := <-statusCh:
				bc = broadcast{Action: websocketActionStatus, User: userID, Status: st}
				if st == session.StatusStopped {
					s.broadcastJSON(bc)
					return
				}
			case wn := <-warningCh:
				bc = broadcast{Action: websocketActionWarning, User: userID, Warning: &wn}
			case err := <-metricsSub.Err():
				if err != nil {
					slog.Error("Metrics feed subscription failed", "error", err)
				}
				return
			}
			s.broadcastJSON(bc)
		}
	}()
}

func (s *WebDaemon) broadcastJSON(bc broadcast) {
	if s.melodyInstance == nil {
		return
	}
	b, err := json.Marshal(bc)
	if err != nil {
		slog.Error("Failed to marshal broadcast", "error", err)
		return
	}
	if err := s.melodyInstance.Broadcast(b); err != nil {
		slog.Warn("Failed to broadcast", "error", err)
	}
}
