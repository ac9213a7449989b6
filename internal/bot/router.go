// Package bot routes incoming transport updates to the command and callback
// handlers that make up the operator/user surface.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"safeguard/internal/transport"
	"safeguard/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

type Request struct {
	Update transport.Update
	Chat   transport.ChatTarget

	FromID       int64
	FromUsername string

	// Command is the matched route ("/setup") or callback action ("buy").
	Command string
	Args    []string
	// Payload is the callback data after the action prefix ("buy:fast" -> "fast").
	Payload string

	Adapter transport.Adapter
	Logger  logx.Logger
}

// Reply sends a plain text response into the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{ParseMode: "Markdown"})
	return err
}

type Command struct {
	Name        string // without leading slash
	Description string
	Handle      HandlerFunc
}

type Callback struct {
	Action string // data prefix before ':'
	Handle HandlerFunc
}

type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]Callback

	log     logx.Logger
	adapter transport.Adapter
	timeout time.Duration
}

func NewRouter(adapter transport.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands:  map[string]Command{},
		callbacks: map[string]Callback{},
		log:       log,
		adapter:   adapter,
		timeout:   30 * time.Second,
	}
}

func (r *Router) Handle(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		r.commands[strings.ToLower(c.Name)] = c
	}
}

func (r *Router) HandleCallback(cbs ...Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range cbs {
		r.callbacks[cb.Action] = cb
	}
}

// DispatchLoop consumes updates until ctx is done. Handlers run inline;
// Telegram updates are already serialized by the long-poll loop and the
// handlers are quick (the campaign handler spawns its own run).
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return
		}
		name, args, ok := parseCommand(up.Message.Text)
		if !ok {
			return
		}
		r.mu.RLock()
		cmd, found := r.commands[name]
		r.mu.RUnlock()
		if !found {
			return
		}
		req := &Request{
			Update:       up,
			Chat:         transport.ChatTarget{ChatID: up.Message.ChatID},
			FromID:       up.Message.FromID,
			FromUsername: up.Message.FromUsername,
			Command:      "/" + name,
			Args:         args,
			Adapter:      r.adapter,
			Logger:       r.log,
		}
		r.run(ctx, cmd.Handle, req)

	case transport.UpdateCallback:
		if up.Callback == nil {
			return
		}
		action, payload := splitCallbackData(up.Callback.Data)
		r.mu.RLock()
		cb, found := r.callbacks[action]
		r.mu.RUnlock()
		if !found {
			return
		}
		req := &Request{
			Update:       up,
			Chat:         transport.ChatTarget{ChatID: up.Callback.ChatID},
			FromID:       up.Callback.FromID,
			FromUsername: up.Callback.FromUsername,
			Command:      action,
			Payload:      payload,
			Adapter:      r.adapter,
			Logger:       r.log,
		}
		r.run(ctx, cb.Handle, req)
	}
}

func (r *Router) run(ctx context.Context, h HandlerFunc, req *Request) {
	h = Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	// Errors are logged by MWRequestLog; nothing else to do here.
	_ = h(ctx, req)
}

// parseCommand extracts "/cmd arg arg" from message text. The "@BotName"
// suffix Telegram appends in groups is stripped.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func splitCallbackData(data string) (action, payload string) {
	if i := strings.IndexByte(data, ':'); i >= 0 {
		return data[:i], data[i+1:]
	}
	return data, ""
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				log.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				log.Info("request ok", fields...)
			} else {
				log.Debug("request ok", fields...)
			}
			return err
		}
	}
}
