package httpapi

import (
	"log"
	"net/http"

	"qms/queueflow-service/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const displayPrefix = "/display"

// NewDisplayHandler streams call events from the hub to display boards over
// SockJS. A board may send {"action":"subscribe","counter_id":N} to follow
// one counter, or "unsubscribe" to follow all of them again.
func NewDisplayHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler(displayPrefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					log.Printf("display send error client=%s: %v", client.ID, err)
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{CounterID: parsed.CounterID})
		}
	})
}
