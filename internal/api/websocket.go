package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"perpbot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// websocket streams price ticks and position lifecycle events to a client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	ticks, unsubTicks := s.Bus.Subscribe(events.EventPriceTick, 100)
	defer unsubTicks()
	opened, unsubOpened := s.Bus.Subscribe(events.EventPositionOpened, 10)
	defer unsubOpened()
	closed, unsubClosed := s.Bus.Subscribe(events.EventPositionClosed, 10)
	defer unsubClosed()
	states, unsubStates := s.Bus.Subscribe(events.EventBotState, 10)
	defer unsubStates()

	// Reader goroutine notices the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var env wsEnvelope
		select {
		case <-clientGone:
			return
		case msg := <-ticks:
			env = wsEnvelope{Event: string(events.EventPriceTick), Data: msg}
		case msg := <-opened:
			env = wsEnvelope{Event: string(events.EventPositionOpened), Data: msg}
		case msg := <-closed:
			env = wsEnvelope{Event: string(events.EventPositionClosed), Data: msg}
		case msg := <-states:
			env = wsEnvelope{Event: string(events.EventBotState), Data: msg}
		}
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
