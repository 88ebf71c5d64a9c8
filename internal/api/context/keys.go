package context

import (
	"context"

	"github.com/julienschmidt/httprouter"
	"hookgate/internal/platform/auth"
)

type Key string

const (
	Claims    Key = "claims"
	Params    Key = "params"
	ClientIP  Key = "client_ip"
	RequestID Key = "request_id"
)

func ParamsFrom(ctx context.Context) httprouter.Params {
	ps, _ := ctx.Value(Params).(httprouter.Params)
	return ps
}

func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(Claims).(*auth.Claims)
	return claims, ok && claims != nil
}

// ClientIPFrom returns the address resolved by the client IP middleware,
// or "" when it did not run.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIP).(string)
	return ip
}

// Actor names the admin behind a request for audit entries.
func Actor(ctx context.Context) string {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.Username
	}
	return "system"
}
