// Package http_request registers the "http_request" executor kind: a
// webhook-style call, typically used to trigger a deployment.
//
// Inputs:
//
//	url           string  required
//	method        string  default "POST"
//	body          any     strings are sent verbatim, anything else as JSON
//	headers       object  extra request headers
//	token_secret  string  name of a requested secret sent as a bearer token
//	expect_status number  required status code; default is any 2xx
package http_request

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/registry"
	"resty.dev/v3"
)

// Kind is the executor kind this module registers.
const Kind = "http_request"

// maxMessageBody caps how much of a response body ends up in the outcome.
const maxMessageBody = 512

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client is shared by every execution to reuse connections. Nil means a
	// default client created on first use.
	Client *resty.Client

	once sync.Once
}

// Register registers the executor with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(Kind, executor.Func(m.execute))
}

func (m *Module) client() *resty.Client {
	m.once.Do(func() {
		if m.Client == nil {
			m.Client = resty.New()
		}
	})
	return m.Client
}

func (m *Module) execute(ctx context.Context, task *executor.Task) executor.Outcome {
	url, ok := task.Inputs.String("url")
	if !ok || url == "" {
		return executor.Failed("input 'url' is required")
	}
	method, ok := task.Inputs.String("method")
	if !ok || method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)
	logger := ctxlog.FromContext(ctx).With("executor", Kind, "method", method, "url", url)

	req := m.client().R().SetContext(ctx)
	if v, ok := task.Inputs.Get("body"); ok && !v.IsNull() {
		body := params.Plain(v)
		if s, isString := body.(string); isString {
			req.SetBody(s)
		} else {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}
	}
	if v, ok := task.Inputs.Get("headers"); ok && !v.IsNull() {
		headers, isMap := params.Plain(v).(map[string]any)
		if !isMap {
			return executor.Failed("input 'headers' must be an object")
		}
		for k, hv := range headers {
			req.SetHeader(k, fmt.Sprint(hv))
		}
	}
	if name, ok := task.Inputs.String("token_secret"); ok && name != "" {
		token, found := task.Secrets.Lookup(name)
		if !found {
			return executor.Failed(fmt.Sprintf("secret %q was not requested by the stage", name))
		}
		req.SetAuthToken(token)
	}

	logger.Info("Making HTTP request")
	resp, err := req.Execute(method, url)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Failed("request interrupted: " + ctx.Err().Error())
		}
		return executor.Failed(fmt.Sprintf("failed to execute request: %v", err))
	}
	logger.Info("Received HTTP response", "status", resp.StatusCode())

	msg := fmt.Sprintf("%s %s: %d", method, url, resp.StatusCode())
	if body := truncate(strings.TrimSpace(resp.String()), maxMessageBody); body != "" {
		msg += " " + body
	}
	if want, ok := task.Inputs.Number("expect_status"); ok {
		if resp.StatusCode() != int(want) {
			return executor.Failed(fmt.Sprintf("%s (want %d)", msg, int(want)))
		}
		return executor.Succeeded(msg)
	}
	if !resp.IsSuccess() {
		return executor.Failed(msg)
	}
	return executor.Succeeded(msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
