package tools

import (
	"context"
	"path/filepath"
	"strings"
)

type runtimeContextKey struct{}

// RuntimeContext carries per-turn metadata so tools can log which session
// and workspace they act for.
type RuntimeContext struct {
	SessionKey string
	Workspace  string
}

// WithRuntimeContext injects normalized runtime metadata into ctx.
func WithRuntimeContext(ctx context.Context, rt RuntimeContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	rt.SessionKey = strings.TrimSpace(rt.SessionKey)
	rt.Workspace = strings.TrimSpace(rt.Workspace)
	if rt.Workspace != "" {
		if absPath, err := filepath.Abs(rt.Workspace); err == nil {
			rt.Workspace = absPath
		}
	}
	return context.WithValue(ctx, runtimeContextKey{}, rt)
}

// RuntimeContextFrom extracts runtime metadata from ctx. Values are already
// normalized by WithRuntimeContext; a missing entry yields zero values.
func RuntimeContextFrom(ctx context.Context) RuntimeContext {
	if ctx == nil {
		return RuntimeContext{}
	}
	rt, _ := ctx.Value(runtimeContextKey{}).(RuntimeContext)
	return rt
}
