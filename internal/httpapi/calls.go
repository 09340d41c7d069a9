package httpapi

import (
	"net/http"
	"strings"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/peer"

	"github.com/gin-gonic/gin"
)

// parseFilter reads ?customer=&from=&to= (RFC 3339).
func parseFilter(c *gin.Context) (calllog.Filter, bool) {
	f := calllog.Filter{Customer: auth.NormalizeEmail(c.Query("customer"))}
	for key, dst := range map[string]*time.Time{"from": &f.Range.From, "to": &f.Range.To} {
		v := strings.TrimSpace(c.Query(key))
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, key+" must be RFC 3339")
			return calllog.Filter{}, false
		}
		*dst = t
	}
	return f, true
}

// ListCalls returns call history oldest first. Support only.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		fail(c, http.StatusInternalServerError, "call history not configured")
		return
	}
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	events, err := h.Calls.History(c.Request.Context(), f)
	if err != nil {
		failErr(c, err)
		return
	}
	if events == nil {
		events = []calllog.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}

// CallSummary aggregates call history. Support only.
func (h Handlers) CallSummary(c *gin.Context) {
	if h.Calls == nil {
		fail(c, http.StatusInternalServerError, "call history not configured")
		return
	}
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	sum, err := h.Calls.Summary(c.Request.Context(), f)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": sum})
}

type recordCallRequest struct {
	Customer  string       `json:"customer"`
	Kind      calllog.Kind `json:"kind"`
	MediaKind string       `json:"mediaKind"`
	Message   string       `json:"message"`
}

// RecordCall appends a call event on behalf of the support agent. The actor
// is taken from the token, never from the body.
func (h Handlers) RecordCall(c *gin.Context) {
	if h.Calls == nil {
		fail(c, http.StatusInternalServerError, "call history not configured")
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}
	var req recordCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	ev, err := h.Calls.Append(c.Request.Context(), calllog.Event{
		Customer:  auth.NormalizeEmail(req.Customer),
		Actor:     p.Identity(),
		Kind:      req.Kind,
		MediaKind: req.MediaKind,
		Message:   strings.TrimSpace(req.Message),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "event": ev})
}

// --- Peer broker ---

// PublishEnvelope queues an SDP envelope for the endpoint in the path.
func (h Handlers) PublishEnvelope(c *gin.Context) {
	if h.Broker == nil {
		fail(c, http.StatusInternalServerError, "peer broker not configured")
		return
	}
	endpoint := c.Param("endpoint")
	var env peer.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if endpoint == "" || env.From == "" || env.SessionID == "" || !env.Kind.Valid() {
		fail(c, http.StatusBadRequest, "kind, from and sessionId required")
		return
	}
	if err := h.Broker.Publish(c.Request.Context(), endpoint, env); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// ClaimEnvelopes returns and removes the envelopes queued for the endpoint.
func (h Handlers) ClaimEnvelopes(c *gin.Context) {
	if h.Broker == nil {
		fail(c, http.StatusInternalServerError, "peer broker not configured")
		return
	}
	envs, err := h.Broker.Claim(c.Request.Context(), c.Param("endpoint"))
	if err != nil {
		failErr(c, err)
		return
	}
	if envs == nil {
		envs = []peer.Envelope{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "envelopes": envs})
}
