package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/api/middleware"
	"github.com/angelmondragon/kitchenshare-backend/api/responses"
	"github.com/angelmondragon/kitchenshare-backend/pkg/instance"
)

type pingResponse struct {
	Scope      string    `json:"scope"`
	Status     string    `json:"status"`
	Instance   string    `json:"instance"`
	ServerTime time.Time `json:"server_time"`
	ActorID    string    `json:"actor_id,omitempty"`
	Role       string    `json:"role,omitempty"`
}

// PublicPing reports liveness plus server time, which hosted recovery pages
// use to detect client clock skew before showing a session expiry.
func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, newPing("public"))
	}
}

// AdminPing echoes the authenticated caller.
func AdminPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := newPing("admin")
		payload.ActorID = middleware.ActorIDFromContext(r.Context())
		if payload.ActorID != "" {
			payload.Role = middleware.RoleFromContext(r.Context())
		}
		responses.WriteSuccess(w, payload)
	}
}

func newPing(scope string) pingResponse {
	return pingResponse{
		Scope:      scope,
		Status:     "ok",
		Instance:   instance.GetID(),
		ServerTime: time.Now().UTC(),
	}
}
