package ctxkeys

// TraceIDKey 一次宿主调用的追踪ID
type TraceIDKey struct{}

// SessionIDKey 当前会话ID
type SessionIDKey struct{}
