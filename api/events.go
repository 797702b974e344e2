package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"passlog/events"
	"passlog/logger"
	"passlog/store"
)

// watchSuites streams suite changes as Server-Sent Events until the client
// goes away or falls too far behind. Clients that get a dropped event should
// re-read the listing and watch again.
func (s *Server) watchSuites(c *gin.Context) {
	sub := s.broker.Subscribe(store.KindSuite)
	defer s.broker.Unsubscribe(sub)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "connected", gin.H{"message": "watching suites"}); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case change, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); errors.Is(err, events.ErrSlowSubscriber) {
					logger.Logger.Warn().Msg("watch client fell behind, dropping stream")
					writeEvent(w, "dropped", gin.H{"reason": err.Error()})
				}
				return
			}
			name := fmt.Sprintf("%s_%s", change.Kind, change.Mutation)
			if err := writeEvent(w, name, change); err != nil {
				return
			}
		case t := <-heartbeat.C:
			if err := writeEvent(w, "ping", gin.H{"time": t.UnixMilli()}); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeEvent(w gin.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
