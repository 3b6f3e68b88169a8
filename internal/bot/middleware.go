package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a command handler.
type Middleware func(next HandlerFunc) HandlerFunc

// pipeline wraps h so that the first middleware sees the request first.
func pipeline(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// commandPipeline is the fixed order every command runs through.
func (r *Router) commandPipeline(c *Command) HandlerFunc {
	return pipeline(c.Handle,
		containPanic(),
		logCommand(c),
		withDeadline(c.Timeout),
		r.gate(c),
	)
}

// gate refuses commands used in the wrong chat or by the wrong user. A
// refusal is answered in chat and is not an error.
func (r *Router) gate(c *Command) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if c.GroupOnly && !req.IsGroup {
				req.Logger.Debug("command refused", logx.String("reason", "private_chat"))
				r.reply(ctx, req.Chat, "This command works in group chats only.")
				return nil
			}
			if !r.authorize(ctx, c.Access, req) {
				req.Logger.Info("command refused", logx.String("reason", "access"), logx.Int("access", int(c.Access)))
				r.reply(ctx, req.Chat, "⛔ You are not allowed to do that here.")
				return nil
			}
			return next(ctx, req)
		}
	}
}

// withDeadline bounds a handler; d <= 0 uses defaultTimeout.
func withDeadline(d time.Duration) Middleware {
	if d <= 0 {
		d = defaultTimeout
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// containPanic turns a handler panic into an error so the command worker
// keeps serving.
func containPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					req.Logger.Error("command panicked",
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("command /%s panicked: %v", req.Command, rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

func logCommand(c *Command) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			fields := []logx.Field{
				logx.Int("args", len(req.Args)),
				logx.Bool("group", req.IsGroup),
				logx.Duration("dur", took),
			}
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				req.Logger.Warn("command timed out", append(fields, logx.Err(err))...)
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case c.Access == AccessOwner || took >= 750*time.Millisecond:
				req.Logger.Info("command done", fields...)
			default:
				req.Logger.Debug("command done", fields...)
			}
			return err
		}
	}
}
