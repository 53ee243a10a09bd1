package extract

import "context"

// LogFunc receives one human-readable line per processed match.
// The CLI prints these to stdout; the HTTP server discards them.
type LogFunc func(message string)

type logFuncKey struct{}

// WithLogFunc returns a context carrying a progress callback.
func WithLogFunc(ctx context.Context, fn LogFunc) context.Context {
	return context.WithValue(ctx, logFuncKey{}, fn)
}

// emitLog calls the progress callback on the context, if one is set.
func emitLog(ctx context.Context, msg string) {
	if fn, ok := ctx.Value(logFuncKey{}).(LogFunc); ok && fn != nil {
		fn(msg)
	}
}

// LogFuncFrom returns the progress callback carried by ctx, or nil.
func LogFuncFrom(ctx context.Context) LogFunc {
	fn, _ := ctx.Value(logFuncKey{}).(LogFunc)
	return fn
}
