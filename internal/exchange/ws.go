package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"margin_trader/pkg/logger"
)

// WSFeed: info-запросы через websocket методом "post": запрос с id,
// ждём ответ с тем же id. Соединение держим между тиками, при ошибке
// один раз переподключаемся.
type WSFeed struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

func NewWSFeed(url string, timeout time.Duration) *WSFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WSFeed{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		timeout: timeout,
	}
}

type wsPostRequest struct {
	Method  string        `json:"method"`
	ID      int64         `json:"id"`
	Request wsPostPayload `json:"request"`
}

type wsPostPayload struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type wsFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsPostResponse struct {
	ID       int64 `json:"id"`
	Response struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	} `json:"response"`
}

func (f *WSFeed) PostInfo(ctx context.Context, req any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reused := f.conn != nil
	data, err := f.postLocked(ctx, req)
	var apiErr *APIError
	if err != nil && reused && ctx.Err() == nil && !errors.As(err, &apiErr) {
		// сервер мог закрыть простаивающее соединение между тиками
		logger.Warn("[WS] post failed on idle connection, redialing: %v", err)
		data, err = f.postLocked(ctx, req)
	}
	return data, err
}

func (f *WSFeed) postLocked(ctx context.Context, req any) ([]byte, error) {
	conn, err := f.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	f.nextID++
	id := f.nextID
	msg, err := sonic.Marshal(wsPostRequest{
		Method:  "post",
		ID:      id,
		Request: wsPostPayload{Type: "info", Payload: req},
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal ws post")
	}

	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		f.dropLocked()
		return nil, errors.Wrap(err, "ws write")
	}

	// отмена ctx обрывает чтение через дедлайн
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.dropLocked()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "ws read")
		}

		var frame wsFrame
		if err := sonic.Unmarshal(raw, &frame); err != nil || frame.Channel != "post" {
			continue // pong, subscriptionResponse и прочее
		}
		var resp wsPostResponse
		if err := sonic.Unmarshal(frame.Data, &resp); err != nil {
			return nil, errors.Wrapf(err, "decode ws post: %s", truncate(frame.Data))
		}
		if resp.ID != id {
			continue
		}

		switch resp.Response.Type {
		case "info":
			var payload struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := sonic.Unmarshal(resp.Response.Payload, &payload); err != nil {
				return nil, errors.Wrap(err, "decode ws info payload")
			}
			return payload.Data, nil
		case "error":
			var msg string
			if err := sonic.Unmarshal(resp.Response.Payload, &msg); err != nil {
				msg = string(resp.Response.Payload)
			}
			return nil, &APIError{Message: msg}
		default:
			return nil, errors.Errorf("unexpected ws response type %q", resp.Response.Type)
		}
	}
}

func (f *WSFeed) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if f.conn != nil {
		return f.conn, nil
	}
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "ws dial %s", f.url)
	}
	logger.Info("[WS] connected %s", f.url)
	f.conn = conn
	return conn, nil
}

func (f *WSFeed) dropLocked() {
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	f.dropLocked()
	return err
}
