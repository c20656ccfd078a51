package handler

import (
	"context"
	"net/http"
	"time"

	"brokerdash/src/controller"
	"brokerdash/src/executors"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DealingStreamHandler upgrades to a websocket and pushes a dealing snapshot
// for the current UTC day on connect and on every refresh, until the client
// goes away. period <= 0 uses DEALING_REFRESH_PERIOD.
func DealingStreamHandler(svc dealingComputer, period time.Duration) http.HandlerFunc {
	log := logger.WithField("component", "dealing_stream")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The client only ever closes; a read error means it is gone.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		loop := executors.NewDealingLoop(svc, func(m *controller.DealingMetrics) error {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			return conn.WriteJSON(m)
		})
		if period > 0 {
			loop.Period = period
		}

		if err := loop.Run(ctx); err != nil {
			log.WithError(err).Info("dealing stream closed")
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	}
}

func DefaultDealingStreamHandler(selfProxyURL string) http.HandlerFunc {
	return DealingStreamHandler(DefaultDealingService(selfProxyURL), 0)
}
