package httpapi

import (
	"encoding/json"
	"net/http"

	"support-calls/internal/signalbus"

	"github.com/gin-gonic/gin"
)

type sendSignalRequest struct {
	To   string          `json:"to"`
	Type signalbus.Type  `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendSignal appends a signal from the caller.
func (h Handlers) SendSignal(c *gin.Context) {
	if h.Signals == nil {
		fail(c, http.StatusInternalServerError, "signals not configured")
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}
	var req sendSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.To == "" || req.Type == "" {
		fail(c, http.StatusBadRequest, "Missing fields")
		return
	}

	var payload any
	if len(req.Data) > 0 && string(req.Data) != "null" {
		payload = req.Data
	}
	sig, err := h.Signals.Send(c.Request.Context(), p, req.To, req.Type, payload)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "signal": sig})
}

// DrainSignals returns and removes every pending signal for the caller.
// A storage failure reads as an empty mailbox.
func (h Handlers) DrainSignals(c *gin.Context) {
	if h.Signals == nil {
		fail(c, http.StatusInternalServerError, "signals not configured")
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}
	sigs := h.Signals.Drain(c.Request.Context(), p)
	if sigs == nil {
		sigs = []signalbus.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "signals": sigs})
}
