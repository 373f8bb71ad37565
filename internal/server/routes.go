package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/trunkline/internal/call"
	"github.com/MrWong99/trunkline/internal/media"
	"github.com/MrWong99/trunkline/internal/observe"
)

// maxWebhookBody caps how much of a carrier webhook body is read. Carrier
// status posts are small form bodies; anything larger is hostile.
const maxWebhookBody = 64 << 10

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Twilio fetches the instruction with POST, Telnyx with GET.
	mux.HandleFunc("GET /call-instruction", s.handleCallInstruction)
	mux.HandleFunc("POST /call-instruction", s.handleCallInstruction)
	mux.HandleFunc("POST /status", s.handleStatus)
	mux.HandleFunc("/media-stream", s.handleMediaStream)
	s.health.Register(mux)

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// handleCallInstruction serves the document that tells the carrier to open a
// bidirectional media stream back to this service.
func (s *Server) handleCallInstruction(w http.ResponseWriter, r *http.Request) {
	contentType, body := s.tel.CallInstruction(s.mgr.MediaStreamURL())
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(body); err != nil {
		s.log.Warn("writing call instruction failed", "err", err)
	}
}

// handleStatus receives carrier call lifecycle events (ringing, answered,
// completed) and routes them to the owning call session. Unsigned or
// tampered requests are rejected before any parsing.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !s.tel.VerifyWebhook(r, body) {
		s.log.Warn("rejecting status webhook with invalid signature",
			"remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	callRef := form.Get("CallSid")
	status := form.Get("CallStatus")
	if callRef == "" || status == "" {
		http.Error(w, "missing CallSid or CallStatus", http.StatusBadRequest)
		return
	}

	s.mgr.RouteStatus(callRef, status)
	w.WriteHeader(http.StatusNoContent)
}

// handleMediaStream upgrades the carrier's media connection and runs the
// framed-audio session until the carrier closes it. The session is joined to
// its call by the call reference in the start frame; the handler itself
// holds no call state.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // carriers connect from arbitrary origins
	})
	if err != nil {
		s.log.Warn("media stream accept failed", "err", err)
		return
	}

	var (
		ms   *media.Session
		sess *call.Session
	)
	ms = media.NewSession(media.NewWSConn(conn),
		media.WithLogger(s.log),
		media.WithStartHandler(func(start media.Start) error {
			attached, err := s.mgr.AttachMedia(start, ms)
			if err != nil {
				return err
			}
			sess = attached
			return nil
		}),
		media.WithStopHandler(func() {
			if sess != nil {
				sess.MediaStopped()
			}
		}),
	)

	if err := ms.Run(r.Context()); err != nil &&
		!errors.Is(err, media.ErrSessionClosed) && !errors.Is(err, context.Canceled) {
		s.log.Warn("media stream ended with error", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "stream complete")
}
