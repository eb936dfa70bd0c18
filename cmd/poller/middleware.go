package main

import (
	"context"
	"fmt"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/router"
)

// logRoutes logs the outcome of every routed message.
func logRoutes(logger lambdapipe.Logger) router.Middleware {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx context.Context, s *router.RouteState) (router.RoutedResult, error) {
			rr, err := next(ctx, s)
			if err != nil {
				logger.Warn(fmt.Sprintf("route failed: %v", err))
				return rr, err
			}
			logger.Log(fmt.Sprintf("routed %s:%s message %q action=%s",
				rr.MessageType, rr.MessageVersion, rr.MessageID, rr.HandlerResult.Action))
			return rr, nil
		}
	}
}
