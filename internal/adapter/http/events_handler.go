package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/infrastructure/pubsub"
)

type EventSource interface {
	Subscribe(ctx context.Context, scope event.Scope) (event.Stream, error)
}

// EventsHandler serves change streams as Server-Sent Events. One stream lives
// as long as the client connection.
type EventsHandler struct {
	src       EventSource
	heartbeat time.Duration
}

func NewEventsHandler(src EventSource, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{src: src, heartbeat: heartbeat}
}

func (h *EventsHandler) StreamAll(c echo.Context) error {
	return h.stream(c, event.AllSubmissions())
}

func (h *EventsHandler) StreamSubmission(c echo.Context) error {
	sid, ok := submissionIDParam(c)
	if !ok {
		return nil
	}
	return h.stream(c, event.ForSubmission(sid))
}

func (h *EventsHandler) stream(c echo.Context, scope event.Scope) error {
	ctx := c.Request().Context()
	sub, err := h.src.Subscribe(ctx, scope)
	if err != nil {
		return writeError(c, err)
	}
	defer sub.Cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := writeComment(w, "subscribed "+scope.String()); err != nil {
		return nil
	}
	w.Flush()

	tick := time.NewTicker(h.heartbeat)
	defer tick.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := writeComment(w, "heartbeat"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				// ended by the hub; tell the client whether to refetch
				if err := sub.Err(); err != nil {
					_ = writeStreamError(w, err)
					w.Flush()
				}
				return nil
			}
			seq++
			if err := writeEvent(w, seq, ev); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// writeEvent emits one frame: "id", "event" (the kind) and a single-line JSON "data".
func writeEvent(w io.Writer, seq uint64, ev event.ChangeEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Kind, b)
	return err
}

func writeStreamError(w io.Writer, cause error) error {
	code := "stream_closed"
	if errors.Is(cause, pubsub.ErrSubscriberLagging) {
		code = "lagging"
	}
	b, err := json.Marshal(ErrorResponse{Error: cause.Error(), Code: code})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
	return err
}
