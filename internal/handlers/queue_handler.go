package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

const (
	streamWriteWait = 5 * time.Second
	streamPongWait  = time.Minute
)

// QueueHandler handles the waiting room endpoints
type QueueHandler struct {
	queue          interfaces.QueueService
	streamInterval time.Duration
	upgrader       websocket.Upgrader
}

// NewQueueHandler creates a new queue handler. Streams push the position every
// streamInterval until the user leaves the waiting state or becomes eligible.
func NewQueueHandler(queue interfaces.QueueService, streamInterval time.Duration) *QueueHandler {
	return &QueueHandler{
		queue:          queue,
		streamInterval: streamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleJoin processes POST /api/sales/{saleId}/queue
func (qh *QueueHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	pos, err := qh.queue.Join(r.Context(), pathVar(r, "saleId"), user)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, pos, "Joined queue")
}

// HandlePosition processes GET /api/sales/{saleId}/queue/position
func (qh *QueueHandler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	pos, err := qh.queue.Position(r.Context(), pathVar(r, "saleId"), user)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, pos, "")
}

// HandleLeave processes DELETE /api/sales/{saleId}/queue
func (qh *QueueHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	left, err := qh.queue.Leave(r.Context(), pathVar(r, "saleId"), user)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"left": left}, "")
}

// HandleStats processes GET /api/sales/{saleId}/queue/stats
func (qh *QueueHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := qh.queue.Stats(r.Context(), pathVar(r, "saleId"))
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, stats, "")
}

// HandleStream processes GET /api/sales/{saleId}/queue/stream. Browsers cannot
// set headers on a websocket handshake, so the user may also come from the
// user_id query parameter.
func (qh *QueueHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(userIDHeader) == "" && r.URL.Query().Get("user_id") != "" {
		r.Header.Set(userIDHeader, r.URL.Query().Get("user_id"))
	}
	user, err := userID(r)
	if err != nil {
		sendErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	saleID := pathVar(r, "saleId")

	// fail before the upgrade so the client sees a plain HTTP error
	first, err := qh.queue.Position(r.Context(), saleID, user)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}

	conn, err := qh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go qh.readPump(conn, cancel)

	qh.writePump(ctx, conn, saleID, user, first)
}

// readPump drains client frames so pongs and close frames are processed
func (qh *QueueHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (qh *QueueHandler) writePump(ctx context.Context, conn *websocket.Conn, saleID, user string, pos *models.QueuePosition) {
	logger := log.Ctx(ctx)
	ticker := time.NewTicker(qh.streamInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(pos); err != nil {
			logger.Debug().Err(err).Msg("Queue stream closed by client")
			return
		}
		if pos.Status != models.QueueStatusWaiting || pos.Eligible {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(pos.Status)),
				time.Now().Add(streamWriteWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := qh.queue.Position(ctx, saleID, user)
		if err != nil {
			logger.Warn().Err(err).Str("sale_id", saleID).Msg("Queue stream position lookup failed")
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "position unavailable"),
				time.Now().Add(streamWriteWait))
			return
		}
		pos = next
	}
}
