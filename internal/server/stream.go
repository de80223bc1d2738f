package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vesa/pulseboard/internal/alerts"
	"github.com/vesa/pulseboard/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Frame is one message on the live stream.
type Frame struct {
	Metrics    models.SystemMetrics     `json:"metrics"`
	Containers []models.ContainerRecord `json:"containers"`
	Alerts     alerts.View              `json:"alerts"`
	LastUpdate time.Time                `json:"last_update"`
}

func (s *Server) frame(ctx context.Context) (Frame, error) {
	snap := s.sess.Snapshot()
	v, err := s.sess.Alerts(ctx)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Metrics:    snap.Metrics,
		Containers: snap.Containers,
		Alerts:     v,
		LastUpdate: snap.UpdatedAt,
	}, nil
}

// handleStream upgrades to a WebSocket and pushes a full frame on connect
// and after every session change. Client messages are read and discarded;
// a read error ends the stream.
//
//	GET /api/stream?token=<jwt>
func (s *Server) handleStream(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	changes, unsubscribe := s.sess.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		f, err := s.frame(ctx)
		if err != nil {
			return err
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteJSON(f)
	}

	log := s.log.With("client", c.ClientIP())
	log.Info("stream opened")
	defer log.Info("stream closed")

	if err := send(); err != nil {
		log.Warn("stream write failed", "err", err)
		return
	}
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"),
				time.Now().Add(time.Second),
			)
			return
		case <-changes:
			if err := send(); err != nil {
				log.Warn("stream write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
