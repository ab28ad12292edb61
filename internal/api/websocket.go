package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/middleware"
)

const (
	wsMaxMessageBytes = 1 << 20
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = wsPongWait * 9 / 10
	wsWriteWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsRequest is one client frame on the conversation channel.
type wsRequest struct {
	ID         string                 `json:"id"`
	Op         string                 `json:"op"`
	SessionID  string                 `json:"session_id,omitempty"`
	Snapshot   *domain.HealthSnapshot `json:"snapshot,omitempty"`
	QuestionID string                 `json:"question_id,omitempty"`
	AnswerText string                 `json:"answer_text,omitempty"`
}

// wsResponse answers the request with the same ID. Data may be present even
// when Error is set, e.g. a session whose first analysis failed.
type wsResponse struct {
	ID    string               `json:"id"`
	Op    string               `json:"op"`
	OK    bool                 `json:"ok"`
	Data  interface{}          `json:"data,omitempty"`
	Error *domain.ServiceError `json:"error,omitempty"`
}

// handleConversation upgrades to a websocket and serves session operations
// over it, one response per request, in order.
func (s *Server) handleConversation(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	requestID := c.GetString(middleware.RequestIDKey)
	log := s.logger.WithField("request_id", requestID)
	log.Debug("Conversation opened")

	conn.SetReadLimit(wsMaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	writes := make(chan wsResponse, 8)
	writerDone := make(chan struct{})
	go s.conversationWriter(ctx, conn, writes, writerDone, log)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Conversation closed unexpectedly")
			}
			break
		}

		var req wsRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			writes <- s.wsFailure(wsRequest{}, nil, domain.NewValidationError("frame", err.Error(), nil), requestID)
			continue
		}
		writes <- s.dispatch(ctx, req, requestID)
	}

	close(writes)
	<-writerDone
	log.Debug("Conversation closed")
}

func (s *Server) conversationWriter(ctx context.Context, conn *websocket.Conn, writes <-chan wsResponse, done chan<- struct{}, log *logrus.Entry) {
	defer close(done)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case resp, ok := <-writes:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(resp); err != nil {
				log.WithError(err).Warn("Failed to write conversation frame")
				drain(writes)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(writes)
				return
			}
		case <-ctx.Done():
			drain(writes)
			return
		}
	}
}

func drain(writes <-chan wsResponse) {
	for range writes {
	}
}

func (s *Server) dispatch(ctx context.Context, req wsRequest, requestID string) wsResponse {
	switch req.Op {
	case "create_session":
		var snapshot domain.HealthSnapshot
		if req.Snapshot != nil {
			snapshot = *req.Snapshot
		}
		sess, err := s.sessions.CreateSession(ctx, snapshot)
		if err != nil {
			return s.wsFailure(req, sessionOrNil(sess), err, requestID)
		}
		return wsResponse{ID: req.ID, Op: req.Op, OK: true, Data: sess}

	case "get_session":
		sess, err := s.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			return s.wsFailure(req, nil, err, requestID)
		}
		return wsResponse{ID: req.ID, Op: req.Op, OK: true, Data: sess}

	case "get_status":
		report, err := s.sessions.GetSessionStatus(ctx, req.SessionID)
		if err != nil {
			return s.wsFailure(req, nil, err, requestID)
		}
		return wsResponse{ID: req.ID, Op: req.Op, OK: true, Data: report}

	case "submit_answer":
		result, err := s.sessions.SubmitAnswer(ctx, req.SessionID, domain.Answer{
			QuestionID: req.QuestionID,
			AnswerText: req.AnswerText,
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			var data interface{}
			if result != nil {
				data = result
			}
			return s.wsFailure(req, data, err, requestID)
		}
		return wsResponse{ID: req.ID, Op: req.Op, OK: true, Data: result}

	case "delete_session":
		if err := s.sessions.DeleteSession(ctx, req.SessionID); err != nil {
			return s.wsFailure(req, nil, err, requestID)
		}
		return wsResponse{ID: req.ID, Op: req.Op, OK: true}
	}
	return s.wsFailure(req, nil, domain.NewValidationError("op", fmt.Sprintf("unknown operation %q", req.Op), req.Op), requestID)
}

func sessionOrNil(sess *domain.Session) interface{} {
	if sess == nil {
		return nil
	}
	return sess
}

func (s *Server) wsFailure(req wsRequest, data interface{}, err error, requestID string) wsResponse {
	code, status := domain.ErrorCodeFor(err)
	if status >= 500 {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"op":         req.Op,
		}).Error("Conversation request failed")
	}
	details := ""
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		details = validationErr.Field
	}
	return wsResponse{
		ID:    req.ID,
		Op:    req.Op,
		Data:  data,
		Error: domain.NewServiceError(code, err.Error(), details, requestID),
	}
}
