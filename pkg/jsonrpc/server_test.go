package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type echoParams struct {
	Text string `json:"text"`
}

var errBoom = errors.New("boom")

func newTestServer() *Server {
	s := NewServer(WithErrorMapper(func(err error) *Error {
		if errors.Is(err, errBoom) {
			return &Error{Code: ErrServerError, Message: "mapped"}
		}
		return &Error{Code: ErrInternalError, Message: err.Error()}
	}))
	Register(s, "echo", func(_ context.Context, p *echoParams) (string, error) {
		return p.Text, nil
	})
	Register(s, "fail", func(context.Context, *struct{}) (any, error) {
		return nil, errBoom
	})
	Register(s, "method", func(ctx context.Context, _ *struct{}) (string, error) {
		return MethodFromContext(ctx), nil
	})
	return s
}

func TestServerHandle(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"result", `{"jsonrpc":"2.0","method":"echo","params":{"text":"hi"},"id":1}`, `{"jsonrpc":"2.0","result":"hi","id":1}`},
		{"string id", `{"jsonrpc":"2.0","method":"echo","params":{"text":"x"},"id":"a"}`, `{"jsonrpc":"2.0","result":"x","id":"a"}`},
		{"mapped error", `{"jsonrpc":"2.0","method":"fail","id":2}`, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"mapped"},"id":2}`},
		{"unknown method", `{"jsonrpc":"2.0","method":"nope","id":3}`, `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found: nope"},"id":3}`},
		{"bad params", `{"jsonrpc":"2.0","method":"echo","params":[1],"id":4}`, ``},
		{"bad version", `{"jsonrpc":"1.0","method":"echo","id":5}`, `{"jsonrpc":"2.0","error":{"code":-32600,"message":"invalid JSON-RPC version"},"id":5}`},
		{"method in context", `{"jsonrpc":"2.0","method":"method","id":6}`, `{"jsonrpc":"2.0","result":"method","id":6}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Handle(ctx, []byte(tt.in))
			if tt.want == "" {
				var res Response
				if err := json.Unmarshal(out, &res); err != nil || res.Error == nil || res.Error.Code != ErrInvalidParams {
					t.Fatalf("got %s", out)
				}
				return
			}
			if string(out) != tt.want {
				t.Errorf("got  %s\nwant %s", out, tt.want)
			}
		})
	}
}

func TestServerParseError(t *testing.T) {
	out := newTestServer().Handle(context.Background(), []byte(`{"jsonrpc":`))
	res, err := ParseResponse(out)
	if err != nil || res.Error == nil || res.Error.Code != ErrParseError || res.ID != nil {
		t.Fatalf("got %s", out)
	}
}

func TestServerNotifications(t *testing.T) {
	s := newTestServer()
	if out := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo","params":{"text":"x"}}`)); out != nil {
		t.Errorf("notification answered: %s", out)
	}
	if out := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"nope"}`)); out != nil {
		t.Errorf("unknown notification answered: %s", out)
	}
}

func TestServerBatch(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	out := s.Handle(ctx, []byte(`[
		{"jsonrpc":"2.0","method":"echo","params":{"text":"a"},"id":1},
		{"jsonrpc":"2.0","method":"echo","params":{"text":"skip"}},
		{"jsonrpc":"2.0","method":"fail","id":2}
	]`))
	var responses []Response
	if err := json.Unmarshal(out, &responses); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if len(responses) != 2 || string(responses[0].Result) != `"a"` || responses[1].Error == nil {
		t.Errorf("batch = %s", out)
	}

	if out := s.Handle(ctx, []byte(` []`)); !strings.Contains(string(out), `"code":-32600`) {
		t.Errorf("empty batch = %s", out)
	}
	if out := s.Handle(ctx, []byte(`[{"jsonrpc":"2.0","method":"echo"}]`)); out != nil {
		t.Errorf("all-notification batch answered: %s", out)
	}
}

func TestServerMiddlewareOrder(t *testing.T) {
	s := newTestServer()
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next Handler) Handler {
			return func(ctx context.Context, params json.RawMessage) (any, error) {
				order = append(order, name)
				return next(ctx, params)
			}
		}
	}
	s.Use(mw("outer"), mw("inner"))
	s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo","id":1}`))
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}

func TestClientOverHTTP(t *testing.T) {
	srv := httptest.NewServer(newTestServer())
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	var got string
	if err := c.Call(ctx, "echo", echoParams{Text: "over http"}, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "over http" {
		t.Errorf("result = %q", got)
	}

	var rpcErr *Error
	if err := c.Call(ctx, "fail", nil, nil); !errors.As(err, &rpcErr) || rpcErr.Code != ErrServerError {
		t.Errorf("fail: got %v", err)
	}

	if err := c.Notify(ctx, "echo", echoParams{Text: "n"}); err != nil {
		t.Errorf("Notify: %v", err)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", resp.StatusCode)
	}

	_ = c.Close()
	if err := c.Call(ctx, "echo", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("after close: %v", err)
	}
}
