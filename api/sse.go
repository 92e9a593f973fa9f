package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

// KeepAlive is the interval between comment lines on an idle event stream.
var KeepAlive = 30 * time.Second

// StreamBuffer is how many events a stream queues for a slow reader before
// dropping. Terminal events are never dropped.
var StreamBuffer = 256

// eventView is the wire form of a workflow.Event.
type eventView struct {
	Type       workflow.EventType `json:"type"`
	InstanceID string             `json:"instanceId"`
	WorkflowID string             `json:"workflowId"`
	StageID    string             `json:"stageId,omitempty"`
	Time       time.Time          `json:"time"`
	Data       map[string]any     `json:"data,omitempty"`
	Result     *workflow.Result   `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func viewOf(ev workflow.Event) eventView {
	v := eventView{
		Type:       ev.Type,
		InstanceID: ev.InstanceID,
		WorkflowID: ev.WorkflowID,
		StageID:    ev.StageID,
		Time:       ev.Time,
		Data:       ev.Data,
		Result:     ev.Result,
	}
	if ev.Err != nil {
		v.Error = ev.Err.Error()
	}
	return v
}

func terminal(t workflow.EventType) bool {
	return t == workflow.EventCompleted || t == workflow.EventFailed || t == workflow.EventCancelled
}

// StreamEvents streams the events of one instance as server-sent events
// until it reaches a terminal status or the client goes away.
// (GET /api/v1/instances/:id/events)
func (s *Server) StreamEvents(c echo.Context) error {
	id := c.Param("id")

	ch := make(chan workflow.Event, StreamBuffer)
	// the terminal event bypasses the buffer so the stream always ends
	done := make(chan workflow.Event, 1)
	unsubscribe := s.Engine.Subscribe(workflow.SubscriberFunc(func(ev workflow.Event) {
		if ev.InstanceID != id {
			return
		}
		if terminal(ev.Type) {
			select {
			case done <- ev:
			default:
			}
			return
		}
		select {
		case ch <- ev:
		default:
			// slow reader
		}
	}))
	defer unsubscribe()

	// checked after subscribing so a terminal event cannot slip between
	if _, err := s.Engine.GetInstance(id); err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Initial ping so clients know the stream is live.
	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
	w.Flush()

	keepalive := time.NewTicker(KeepAlive)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			w.Flush()
		case ev := <-ch:
			s.writeEvent(w, id, ev)
		case last := <-done:
			for {
				select {
				case ev := <-ch:
					s.writeEvent(w, id, ev)
				default:
					s.writeEvent(w, id, last)
					return nil
				}
			}
		}
	}
}

func (s *Server) writeEvent(w *echo.Response, id string, ev workflow.Event) {
	b, err := json.Marshal(viewOf(ev))
	if err != nil {
		s.Logger.Warn("Dropping unencodable event %s of %s: %v", ev.Type, id, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b)
	w.Flush()
}
