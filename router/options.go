package router

import (
	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/policy"
)

// RouterOption configures a Router at construction time.
type RouterOption func(*Router)

// WithFailurePolicy sets a custom failure policy for the Router.
func WithFailurePolicy(p policy.Policy) RouterOption {
	return func(r *Router) { r.failurePolicy = p }
}

// WithRoutingPolicy sets a custom routing policy for the Router.
func WithRoutingPolicy(p RoutingPolicy) RouterOption {
	return func(r *Router) { r.routingPolicy = p }
}

// WithLogger sets where routing failures are reported.
func WithLogger(l lambdapipe.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}
