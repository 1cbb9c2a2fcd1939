package types

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderEnvironment   = "X-Environment-ID"
	HeaderAuthorization = "Authorization"
)
