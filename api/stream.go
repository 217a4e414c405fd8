package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// RunNotFound is the body of a stream request for a run that is not
// registered: never started, or finished and drained.
const RunNotFound = "Run not found or already completed"

// streamRun bridges a run's output channel to a server-sent event stream.
//
// GET /chat/:runId?startIndex=n
//
// Each chunk becomes one event whose id is the chunk's sequence index and
// whose data is the JSON payload. The response ends when the channel closes.
func (s *Server) streamRun(c echo.Context) error {
	runID := c.Param("runId")

	from, err := startIndex(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, ok := s.registry.Attach(runID, from)
	if !ok {
		return c.String(http.StatusNotFound, RunNotFound)
	}
	defer sub.Close()

	s.metrics.StreamAttached()
	defer s.metrics.StreamDetached()

	w := c.Response()
	h := w.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.heartbeat)
		chunk, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			data, err := json.Marshal(chunk.Payload)
			if err != nil {
				s.logger.Error("encode stream chunk", "run_id", runID, "index", chunk.Index, "error", err)
				return nil
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", chunk.Index, data); err != nil {
				return nil
			}
			w.Flush()

		case errors.Is(err, io.EOF):
			return nil

		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()

		default:
			// Client went away.
			return nil
		}
	}
}

// startIndex reads the resume offset from the startIndex query parameter,
// falling back to one past the Last-Event-ID header.
func startIndex(r *http.Request) (int64, error) {
	if raw := r.URL.Query().Get("startIndex"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("startIndex must be a non-negative integer, got %q", raw)
		}
		return n, nil
	}
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			return n + 1, nil
		}
	}
	return 0, nil
}
