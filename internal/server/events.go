package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func (c *controller) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	sse := newEventWriter(w)
	events := c.app.Events(r.Context())
	for {
		select {
		case <-r.Context().Done():
			c.logDebug(r, "stopping event stream")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.logDebug(r, "sending event", "event", fmt.Sprintf("%T %+v", ev, ev))
			data, err := json.Marshal(ev)
			if err != nil {
				c.logError(r, "failed to marshal event", "error", err)
				continue
			}
			if err := sse.send(data); err != nil {
				return
			}
		}
	}
}
