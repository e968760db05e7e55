package common

type contextKey string

const (
	TraceIdKey         contextKey = "trace_id"
	ClientIPContextKey contextKey = "client_ip"
)
