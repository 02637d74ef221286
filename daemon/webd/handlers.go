package webd

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/paulmach/orb/geojson"
	"github.com/strideworks/trackd/cache"
	"github.com/strideworks/trackd/events"
	"github.com/strideworks/trackd/session"
	"github.com/strideworks/trackd/state"
	"github.com/strideworks/trackd/types/fix"
	"github.com/strideworks/trackd/types/run"
)

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// userFor resolves (or lazily creates) the per-user session binding.
func (s *WebDaemon) userFor(userID string) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.sessions[userID]
	if ok {
		return us
	}
	src := session.NewPushSource()
	us = &userSession{
		sess:   session.New(userID, s.Config.Session, src, s.store, nil),
		src:    src,
		dedupe: cache.NewDedupePassLRUFunc(),
	}
	s.sessions[userID] = us
	s.watchSession(userID, us.sess)
	return us
}

// dropUser forgets a finished session so the next start builds a fresh one.
func (s *WebDaemon) dropUser(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

func queryUser(r *http.Request) string {
	return r.URL.Query().Get("user")
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone already; log is all that's left.
		slog.Error("Failed to encode response", "error", err)
	}
}

// handlePopulate is where fixes get posted. Clients send either a JSON
// array of fixes or newline-delimited fix objects; the Fix decoder
// tolerates their field spellings. Duplicate re-sends are dropped
// before the pipeline so they never inflate the observed counters.
func (s *WebDaemon) handlePopulate(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}
	if r.Body == nil {
		s.logger.Error("No request body", "method", r.Method, "url", r.URL)
		http.Error(w, "Please send a request body", http.StatusBadRequest)
		return
	}

	fixes, err := decodeFixes(r.Body)
	if err != nil {
		s.logger.Error("Failed to decode fixes", "error", err)
		http.Error(w, "Failed to decode fixes", http.StatusBadRequest)
		return
	}
	if len(fixes) == 0 {
		http.Error(w, "No fixes in payload", http.StatusBadRequest)
		return
	}

	us := s.userFor(userID)
	pushed := 0
	for _, f := range fixes {
		if err := f.Validate(); err != nil {
			s.logger.Warn("Invalid fix", "error", err)
			continue
		}
		if !us.dedupe(*f) {
			s.logger.Debug("Deduped fix", "fix", f.StringPretty())
			continue
		}
		cache.SetLastKnown(userID, f)
		us.src.Push(f)
		pushed++
	}

	events.PopulateFeed.Send(fixes)

	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]int{"received": len(fixes), "pushed": pushed})
}

// decodeFixes accepts a JSON array or NDJSON stream of fix objects.
func decodeFixes(body io.Reader) ([]*fix.Fix, error) {
	br := bufio.NewReader(body)
	head, err := br.Peek(1)
	if err != nil {
		return nil, err
	}
	if head[0] == '[' {
		var fixes []*fix.Fix
		if err := json.NewDecoder(br).Decode(&fixes); err != nil {
			return nil, err
		}
		return fixes, nil
	}
	var fixes []*fix.Fix
	dec := json.NewDecoder(br)
	for {
		f := &fix.Fix{}
		if err := dec.Decode(f); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		fixes = append(fixes, f)
	}
	return fixes, nil
}

func (s *WebDaemon) handleStart(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	opts := session.StartOptions{
		Permission: session.Permission(q.Get("permission")),
		Recover:    q.Get("recover") == "true",
		Discard:    q.Get("discard") == "true",
		SkipWarmup: q.Get("skipWarmup") == "true",
	}
	if opts.Permission == "" {
		opts.Permission = session.PermissionGranted
	}

	us := s.userFor(userID)
	err := us.sess.Start(opts)
	switch {
	case errors.Is(err, session.ErrCheckpointExists):
		// Offer recovery; the client decides recover= or discard=.
		cp, rerr := us.sess.Recoverable()
		if rerr != nil {
			http.Error(w, "Failed to read checkpoint", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusConflict)
		writeJSON(w, map[string]any{"error": err.Error(), "checkpoint": cp})
		return
	case errors.Is(err, session.ErrPermission):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error("Failed to start session", "user", userID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": us.sess.Status()})
}

func (s *WebDaemon) sessionCommand(w http.ResponseWriter, r *http.Request, cmd func(us *userSession) error) {
	userID := queryUser(r)
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	us, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}
	if err := cmd(us); err != nil {
		if errors.Is(err, session.ErrBadState) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": us.sess.Status()})
}

func (s *WebDaemon) handleForceBegin(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(us *userSession) error { return us.sess.ForceBegin() })
}

func (s *WebDaemon) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(us *userSession) error { return us.sess.Pause() })
}

func (s *WebDaemon) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(us *userSession) error { return us.sess.Resume() })
}

func (s *WebDaemon) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(us *userSession) error { return us.sess.Suspend() })
}

func (s *WebDaemon) handleStop(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	us, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}
	rec, err := us.sess.Stop()
	if err != nil {
		// State is preserved; the client can retry stop.
		s.logger.Error("Failed to stop session", "user", userID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.dropUser(userID)
	if rec == nil {
		writeJSON(w, map[string]any{"saved": false})
		return
	}
	events.StoredRunFeed.Send(rec)
	writeJSON(w, map[string]any{"saved": true, "run": rec})
}

func (s *WebDaemon) handleMetrics(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	s.mu.Lock()
	us, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}
	writeJSON(w, us.sess.Metrics())
}

// handleCheckpoint serves the live checkpoint snapshot: the fast tier
// is fresh as of the last accepted point, the durable store as of the
// last flush. Fast wins when present.
func (s *WebDaemon) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}
	if cp := cache.Checkpoint(userID); cp != nil {
		writeJSON(w, cp)
		return
	}
	cp, err := s.store.ReadCheckpoint(userID)
	if errors.Is(err, state.ErrNotFound) {
		writeJSON(w, nil)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cp)
}

func (s *WebDaemon) handleRecoverable(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}
	cp, err := s.store.FindIncompleteCheckpoint(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cp)
}

func (s *WebDaemon) handleLastKnown(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	last := cache.LastKnown(userID)
	if last == nil {
		http.Error(w, "No last known fix", http.StatusNotFound)
		return
	}
	writeJSON(w, last)
}

// handleListRuns lists saved runs, as records or (format=geojson) as a
// FeatureCollection of run paths.
func (s *WebDaemon) handleListRuns(w http.ResponseWriter, r *http.Request) {
	userID := queryUser(r)
	out := []*run.Record{}
	err := s.store.EachRun(func(rec *run.Record) bool {
		if userID == "" || rec.UserID == userID {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("format") == "geojson" {
		fc := geojson.NewFeatureCollection()
		for _, rec := range out {
			fc.Append(rec.GeoJSONFeature())
		}
		writeJSON(w, fc)
		return
	}
	writeJSON(w, out)
}
