// Package socketio registers the "socketio" executor kind: it connects to a
// socket.io server, emits a stage notification and, when on_event is set,
// waits for the server to answer with that event.
//
// Inputs:
//
//	url                   string  required, e.g. "http://chat:3000/socket.io/"
//	namespace             string  default "/"
//	emit_event            string  default "stage"
//	data                  object  payload; default describes the run and stage
//	on_event              string  acknowledgement event to wait for
//	timeout               string  default "10s"
//	insecure_skip_verify  bool
package socketio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Kind is the executor kind this module registers.
const Kind = "socketio"

const defaultTimeout = 10 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the executor with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(Kind, executor.Func(execute))
}

// input is the decoded configuration of one execution.
type input struct {
	URL                string
	Namespace          string
	EmitEvent          string
	Data               any
	OnEvent            string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

func decodeInput(ctx context.Context, task *executor.Task) (*input, error) {
	in := &input{Namespace: "/", EmitEvent: "stage", Timeout: defaultTimeout}
	var ok bool
	if in.URL, ok = task.Inputs.String("url"); !ok || in.URL == "" {
		return nil, fmt.Errorf("input 'url' is required")
	}
	if ns, ok := task.Inputs.String("namespace"); ok && ns != "" {
		in.Namespace = ns
	}
	if ev, ok := task.Inputs.String("emit_event"); ok && ev != "" {
		in.EmitEvent = ev
	}
	in.OnEvent, _ = task.Inputs.String("on_event")
	in.InsecureSkipVerify, _ = task.Inputs.Bool("insecure_skip_verify")
	if raw, ok := task.Inputs.String("timeout"); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to parse timeout, using default 10s", "inputTimeout", raw, "error", err)
		} else {
			in.Timeout = d
		}
	}
	if v, ok := task.Inputs.Get("data"); ok && !v.IsNull() {
		in.Data = params.Plain(v)
	} else {
		in.Data = map[string]any{
			"run_id": task.RunID,
			"stage":  task.Stage,
			"branch": task.Trigger.Branch,
			"event":  task.Trigger.Event,
			"actor":  task.Trigger.Actor,
		}
	}
	return in, nil
}

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	message string
	err     error
}

func execute(ctx context.Context, task *executor.Task) executor.Outcome {
	in, err := decodeInput(ctx, task)
	if err != nil {
		return executor.Failed(err.Error())
	}
	logger := ctxlog.FromContext(ctx).With("executor", Kind, "url", in.URL, "emitEvent", in.EmitEvent, "onEvent", in.OnEvent)
	logger.Debug("Handler started")
	defer logger.Debug("Handler finished")

	parsedURL, err := url.Parse(in.URL)
	if err != nil {
		return executor.Failed(fmt.Sprintf("failed to parse URL: %v", err))
	}

	var isConnected atomic.Bool
	done := make(chan opResult, 1)
	finish := func(res opResult) {
		select {
		case done <- res:
		default:
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, in.Timeout)
	defer cancel()

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if in.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(in.Namespace, opts)
	defer func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Successfully connected", "namespace", in.Namespace, "sid", io.Id())
		if err := io.Emit(in.EmitEvent, in.Data); err != nil {
			finish(opResult{err: fmt.Errorf("emitting %q: %w", in.EmitEvent, err)})
			return
		}
		if in.OnEvent == "" {
			finish(opResult{message: fmt.Sprintf("emitted %q", in.EmitEvent)})
		}
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connection failed")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = fmt.Errorf("connection failed: %w", e)
			}
		}
		finish(opResult{err: err})
	})

	if in.OnEvent != "" {
		io.On(types.EventName(in.OnEvent), func(data ...any) {
			msg := fmt.Sprintf("received %q", in.OnEvent)
			if len(data) > 0 {
				msg = fmt.Sprintf("%s: %v", msg, data[0])
			}
			finish(opResult{message: msg})
		})
	}

	io.Connect()

	select {
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return executor.Failed("interrupted: " + ctx.Err().Error())
		}
		if isConnected.Load() {
			return executor.Failed(fmt.Sprintf("timed out after connecting while waiting for event '%s'", in.OnEvent))
		}
		return executor.Failed("timed out while waiting for initial connection")
	case res := <-done:
		if res.err != nil {
			return executor.Failed(res.err.Error())
		}
		return executor.Succeeded(res.message)
	}
}
