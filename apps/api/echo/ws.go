package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/learner"
)

const wsMaxMessageSize = 64 << 10

// push channel message types
const (
	wsConnected       = "connected"
	wsPing            = "ping"
	wsPong            = "pong"
	wsSaveAnswer      = "save_answer"
	wsSaveSuccess     = "save_success"
	wsSaveError       = "save_error"
	wsSaveBulk        = "save_bulk"
	wsBulkSaveSuccess = "bulk_save_success"
	wsUpdateProgress  = "update_progress"
	wsProgressUpdated = "progress_updated"
	wsError           = "error"
)

type (
	wsMessage struct {
		Type         string              `json:"type"`
		Ref          string              `json:"ref,omitempty"` // echoed back in the reply
		AttemptID    string              `json:"attempt_id,omitempty"`
		QuestionID   string              `json:"question_id,omitempty"`
		ChoiceKey    string              `json:"choice_key,omitempty"`
		Answers      []attempt.NewAnswer `json:"answers,omitempty"`
		CurrentIndex *int                `json:"current_index,omitempty"`
	}

	wsReply struct {
		Type         string     `json:"type"`
		Ref          string     `json:"ref,omitempty"`
		ConnectionID string     `json:"connection_id,omitempty"`
		AttemptID    string     `json:"attempt_id,omitempty"`
		QuestionID   string     `json:"question_id,omitempty"`
		Count        int        `json:"count,omitempty"`
		CurrentIndex *int       `json:"current_index,omitempty"`
		Timestamp    *time.Time `json:"timestamp,omitempty"`
		Code         string     `json:"code,omitempty"`
		Error        string     `json:"error,omitempty"`
	}

	wsApi struct {
		svc          attempt.Service
		validate     *validator.Validate
		logger       core.Logger
		heartbeat    time.Duration
		writeTimeout time.Duration
		upgrader     websocket.Upgrader
	}

	// wsConn serializes writes: gorilla connections support one concurrent writer.
	wsConn struct {
		id   string
		conn *websocket.Conn
		out  chan wsReply
		done chan struct{}
	}
)

func registerWebSocketAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc attempt.Service,
	validate *validator.Validate,
	conf *core.Config,
	logger core.Logger,
) {
	api := &wsApi{
		svc:          svc,
		validate:     validate,
		logger:       logger,
		heartbeat:    conf.Server.WSHeartbeat,
		writeTimeout: conf.Server.WSWriteTimeout,
	}
	if api.heartbeat <= 0 {
		api.heartbeat = 30 * time.Second
	}
	if api.writeTimeout <= 0 {
		api.writeTimeout = 10 * time.Second
	}
	api.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(conf),
	}

	g.GET("/ws/attempts", api.serve, jwt, learnerMiddleware)
}

func checkOrigin(conf *core.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || conf.Debug || conf.TestMode {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		front, err := url.Parse(conf.FrontendBaseURL)
		return err == nil && u.Scheme == front.Scheme && u.Host == front.Host
	}
}

func (api *wsApi) serve(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied with an HTTP error
	}

	c := &wsConn{
		id:   uuid.New().String(),
		conn: conn,
		out:  make(chan wsReply, 16),
		done: make(chan struct{}),
	}
	go c.writeLoop(api.heartbeat, api.writeTimeout)

	c.send(wsReply{Type: wsConnected, ConnectionID: c.id})
	api.readLoop(ctx.Request().Context(), lrn, c)
	return nil
}

func (api *wsApi) readLoop(ctx context.Context, lrn learner.Learner, c *wsConn) {
	defer close(c.out)

	c.conn.SetReadLimit(wsMaxMessageSize)
	deadline := func() time.Time { return time.Now().Add(2 * api.heartbeat) }
	_ = c.conn.SetReadDeadline(deadline())

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				api.logger.Debug(fmt.Sprintf("ws %s closed: %v", c.id, err), lrn)
			}
			return
		}
		_ = c.conn.SetReadDeadline(deadline())

		var msg wsMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			c.send(wsReply{Type: wsError, Code: "invalid_message", Error: "invalid message"})
			continue
		}
		if reply, ok := api.handle(ctx, lrn, msg); ok {
			reply.Ref = msg.Ref
			c.send(reply)
		}
	}
}

// handle runs one push message through the same engine operations as the REST routes.
func (api *wsApi) handle(ctx context.Context, lrn learner.Learner, msg wsMessage) (wsReply, bool) {
	switch msg.Type {
	case wsPong:
		return wsReply{}, false

	case wsSaveAnswer:
		na := attempt.NewAnswer{QuestionID: msg.QuestionID, ChoiceKey: msg.ChoiceKey}
		if err := na.Validate(api.validate); err != nil {
			return api.errorReply(wsSaveError, err, lrn), true
		}
		var ans attempt.Answer
		err := retryOnce(func() (err error) {
			ans, err = api.svc.RecordAnswer(ctx, lrn, msg.AttemptID, na)
			return err
		})
		if err != nil {
			return api.errorReply(wsSaveError, err, lrn), true
		}
		return wsReply{Type: wsSaveSuccess, AttemptID: msg.AttemptID, QuestionID: ans.QuestionID, Timestamp: &ans.UpdatedAt}, true

	case wsSaveBulk:
		nas := attempt.NewAnswers{Answers: msg.Answers}
		if err := nas.Validate(api.validate); err != nil {
			return api.errorReply(wsSaveError, err, lrn), true
		}
		var answers []attempt.Answer
		err := retryOnce(func() (err error) {
			answers, err = api.svc.RecordAnswers(ctx, lrn, msg.AttemptID, nas.Answers)
			return err
		})
		if err != nil {
			return api.errorReply(wsSaveError, err, lrn), true
		}
		now := nowFunc().UTC()
		if len(answers) > 0 {
			now = answers[0].UpdatedAt
		}
		return wsReply{Type: wsBulkSaveSuccess, AttemptID: msg.AttemptID, Count: len(answers), Timestamp: &now}, true

	case wsUpdateProgress:
		pu := attempt.ProgressUpdate{CurrentIndex: msg.CurrentIndex}
		if err := pu.Validate(api.validate); err != nil {
			return api.errorReply(wsError, err, lrn), true
		}
		if err := api.svc.UpdateProgress(ctx, lrn, msg.AttemptID, *pu.CurrentIndex); err != nil {
			return api.errorReply(wsError, err, lrn), true
		}
		return wsReply{Type: wsProgressUpdated, AttemptID: msg.AttemptID, CurrentIndex: pu.CurrentIndex}, true
	}
	return wsReply{Type: wsError, Code: "unknown_type", Error: "unknown message type"}, true
}

func (api *wsApi) errorReply(typ string, err error, lrn learner.Learner) wsReply {
	if _, body, ok := describeError(err); ok {
		if body.Code == "storage_unavailable" {
			api.logger.Error(msgStorageUnavailable, errors.Wrap(err, msgStorageUnavailable), lrn)
		}
		return wsReply{Type: typ, Code: body.Code, Error: body.Error}
	}

	switch errors.Cause(err).(type) {
	case validator.ValidationErrors, *core.ValidationError:
		return wsReply{Type: typ, Code: "invalid", Error: err.Error()}
	}

	msg := http.StatusText(http.StatusInternalServerError)
	api.logger.Error(msg, errors.Wrap(err, msg), lrn)
	return wsReply{Type: typ, Code: "internal", Error: msg}
}

func (c *wsConn) send(reply wsReply) {
	select {
	case c.out <- reply:
	case <-c.done:
	}
}

func (c *wsConn) writeLoop(heartbeat, writeTimeout time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		close(c.done)
		_ = c.conn.Close()
	}()

	write := func(reply wsReply) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return c.conn.WriteJSON(reply)
	}

	for {
		select {
		case reply, ok := <-c.out:
			if !ok {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout),
				)
				return
			}
			if err := write(reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(wsReply{Type: wsPing}); err != nil {
				return
			}
		}
	}
}
