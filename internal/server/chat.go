package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tejjnayak/sandchat/internal/chat"
	"github.com/tejjnayak/sandchat/internal/proto"
)

var invalidMessage = fmt.Sprintf("message must be between %d and %d characters", proto.MinMessageLength, proto.MaxMessageLength)

func (c *controller) handlePostChat(w http.ResponseWriter, r *http.Request) {
	var req proto.ChatRequest
	if !c.decodeJSON(w, r, &req) {
		return
	}
	if !proto.ValidateMessage(req.Message) {
		jsonError(w, http.StatusUnprocessableEntity, invalidMessage)
		return
	}

	resp, err := c.app.Chat.Complete(r.Context(), req.Message)
	if err != nil {
		c.logError(r, "failed to complete chat", "error", err)
		status := http.StatusInternalServerError
		var se *chat.StageError
		if errors.As(err, &se) && se.Kind == chat.KindAcquisition {
			status = http.StatusServiceUnavailable
		}
		jsonError(w, status, "failed to process message: "+err.Error())
		return
	}
	jsonEncode(w, resp)
}

func (c *controller) handlePostChatStream(w http.ResponseWriter, r *http.Request) {
	var req proto.StreamChatRequest
	if !c.decodeJSON(w, r, &req) {
		return
	}
	if !proto.ValidateMessage(req.Message) {
		jsonError(w, http.StatusUnprocessableEntity, invalidMessage)
		return
	}
	if req.TopK < 0 {
		jsonError(w, http.StatusUnprocessableEntity, "top_k must not be negative")
		return
	}

	sse := newEventWriter(w)
	for ev := range c.app.Chat.Stream(r.Context(), chat.FromProto(req)) {
		data, err := ev.Data()
		if err != nil {
			c.logError(r, "failed to marshal stream event", "error", err)
			continue
		}
		if err := sse.send(data); err != nil {
			c.logDebug(r, "client went away", "error", err)
			// Keep draining so the stream goroutine can finish.
			continue
		}
	}
}
