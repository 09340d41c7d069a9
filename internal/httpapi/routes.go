package httpapi

import (
	"support-calls/internal/auth"
	"support-calls/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires every API route onto r. authMW verifies the bearer token and
// must put the principal in the request context.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequirePrincipal())
	{
		v1.GET("/me", h.Me)

		// Signal mailbox: both roles.
		v1.POST("/signals", h.SendSignal)
		v1.GET("/signals", h.DrainSignals)

		// SDP broker for peer connection setup: both roles.
		v1.POST("/peer/:endpoint", h.PublishEnvelope)
		v1.GET("/peer/:endpoint", h.ClaimEnvelopes)

		contact := v1.Group("/contact")
		contact.Use(rbac.RequireAnyRole(auth.RoleCustomer))
		{
			contact.POST("", h.PostContact)
			contact.GET("", h.GetContact)
		}

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireSupport())
		{
			calls.POST("/events", h.RecordCall)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireSupport())
		{
			admin.GET("/messages", h.ListMessages)
			admin.PUT("/messages", h.UpdateMessage)
			admin.DELETE("/messages/:id", h.DeleteMessage)
			admin.GET("/conversations", h.ListConversations)
			admin.GET("/calls", h.ListCalls)
			admin.GET("/calls/summary", h.CallSummary)
		}
	}
}
