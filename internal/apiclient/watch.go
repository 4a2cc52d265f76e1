package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"medscribe/internal/progress"
)

// Watch streams progress events for id to fn until the job reaches a
// terminal state, the server closes the stream, or ctx ends. It returns the
// last event received.
func (c *Client) Watch(ctx context.Context, id string, fn func(progress.Event)) (progress.Event, error) {
	var last progress.Event

	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/v1/jobs/" + url.PathEscape(id) + "/stream"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return last, &Error{StatusCode: resp.StatusCode}
		}
		return last, fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return last, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, ctxErr
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return last, fmt.Errorf("stream closed: %s", strings.TrimSpace(closeErr.Text))
			}
			return last, fmt.Errorf("read stream: %w", err)
		}
		last = ev
		if fn != nil {
			fn(ev)
		}
		if ev.Terminal() {
			return last, nil
		}
	}
}
