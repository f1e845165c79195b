package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler duplicates every record to all child handlers. It is
// the handler-level analog of the io.MultiWriter used for multiple
// output paths, for the case where the children already exist.
type fanoutHandler struct {
	handlers []slog.Handler
}

// Fanout combines handlers into one. Records go to every child whose
// level admits them; Enabled reports true when any child would accept
// the record.
func Fanout(handlers ...slog.Handler) slog.Handler {
	flattened := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if fan, ok := h.(*fanoutHandler); ok {
			flattened = append(flattened, fan.handlers...)
			continue
		}
		flattened = append(flattened, h)
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &fanoutHandler{handlers: flattened}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	children := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		children[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: children}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	children := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		children[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: children}
}
