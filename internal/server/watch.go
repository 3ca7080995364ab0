package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docrag/internal/models"
)

const watchWriteTimeout = 10 * time.Second

// handleWatchJob pushes the job status over a websocket whenever it
// changes and closes the socket once the job is terminal. Browsers cannot
// set headers on websocket requests, so the user id may also come from
// the user_id query parameter.
func (s *Server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	user := r.Header.Get(UserHeader)
	if user == "" {
		user = r.URL.Query().Get("user_id")
	}

	// Check access before upgrading so failures are plain HTTP errors
	report, err := s.opts.Jobs.Status(r.Context(), jobID, user)
	if err != nil {
		s.writeJobError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are noticed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.WatchInterval)
	defer ticker.Stop()

	var last *models.JobStatusReport
	for {
		if last == nil || statusChanged(last, report) {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(report); err != nil {
				s.logger.Debug("watch client went away", "job_id", jobID, "error", err)
				return
			}
			last = report
		}
		if report.Status.Terminal() {
			closeWatch(conn, websocket.CloseNormalClosure, string(report.Status))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		report, err = s.opts.Jobs.Status(r.Context(), jobID, user)
		if err != nil {
			s.logger.Warn("watch status lookup failed", "job_id", jobID, "error", err)
			closeWatch(conn, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
	}
}

func statusChanged(prev, cur *models.JobStatusReport) bool {
	return prev.Status != cur.Status ||
		prev.Progress != cur.Progress ||
		!prev.UpdatedAt.Equal(cur.UpdatedAt)
}

func closeWatch(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
