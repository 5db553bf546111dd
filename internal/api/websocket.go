package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-core/internal/fanout"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket upgrades a connection and hands it to the fan-out hub: inbound
// control frames (subscribe/unsubscribe/ping) mutate the session's
// subscriptions, and its outbound queue is drained until the connection
// drops. This replaces a single hard-wired price-tick stream with full
// per-session channel subscriptions.
func (s *Server) websocket(c *gin.Context) {
	if s.Bus == nil || s.Fanout == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fan-out not ready"})
		return
	}

	userID := CurrentUserID(c)
	if userID == "" {
		if tok := c.Query("token"); tok != "" {
			if claims, err := parseToken(tok, s.JWTSecret, tokenTypeAccess); err == nil {
				userID = claims.UserID
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sess := fanout.NewSession(userID, s.Bus)
	s.Fanout.Register(sess)
	defer func() {
		s.Fanout.Unregister(sess)
		sess.Close()
	}()

	go s.wsReadLoop(conn, sess)

	for msg := range sess.Outbound() {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

// wsReadLoop drains inbound control frames until the connection closes.
func (s *Server) wsReadLoop(conn *websocket.Conn, sess *fanout.Session) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply, err := sess.Handle(raw)
		if err != nil {
			continue
		}
		if reply != nil {
			if werr := conn.WriteMessage(websocket.TextMessage, reply); werr != nil {
				return
			}
		}
	}
}
