package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/mux"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/internal/profiles"
	"github.com/hatsunemiku3939/lambdapipe/pkg/jsonschema"
	"github.com/hatsunemiku3939/lambdapipe/pkg/settings"
	"github.com/hatsunemiku3939/lambdapipe/pkg/validate"
)

// maxBodyBytes matches the API Gateway payload limit.
const maxBodyBytes = 10 << 20

type proxyFunc func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func newRouter(svc *profiles.Service, s settings.Settings) (*mux.Router, error) {
	bySchema, err := jsonschema.Validator[profiles.UserProfile](profiles.UserProfileSchema)
	if err != nil {
		return nil, err
	}
	create := lambdapipe.NewHTTPHandler(svc.Create,
		append(s.HTTPOptions(), lambdapipe.WithValidator(validate.Struct[profiles.UserProfile]()))...)
	replace := lambdapipe.NewHTTPHandler(svc.Replace,
		append(s.HTTPOptions(), lambdapipe.WithValidator(bySchema))...)
	fetch := lambdapipe.NewHTTPHandler(svc.Fetch, s.HTTPOptions()...)

	r := mux.NewRouter()
	r.Handle("/users", proxy("/users", create.Handle)).Methods(http.MethodPost)
	r.Handle("/users/{userId}", proxy("/users/{userId}", fetch.Handle)).Methods(http.MethodGet)
	r.Handle("/users/{userId}", proxy("/users/{userId}", replace.Handle)).Methods(http.MethodPut)
	return r, nil
}

// proxy translates an HTTP request into an API Gateway proxy event and writes back the
// pipeline's response.
func proxy(resource string, fn proxyFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		event, err := toEvent(w, req, resource)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		resp, err := fn(req.Context(), event)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		writeResponse(w, resp)
	})
}

func toEvent(w http.ResponseWriter, req *http.Request, resource string) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}

	event := events.APIGatewayProxyRequest{
		Resource:                        resource,
		Path:                            req.URL.Path,
		HTTPMethod:                      req.Method,
		Headers:                         make(map[string]string, len(req.Header)),
		MultiValueHeaders:               map[string][]string(req.Header.Clone()),
		QueryStringParameters:           make(map[string]string),
		MultiValueQueryStringParameters: map[string][]string(req.URL.Query()),
		PathParameters:                  mux.Vars(req),
		RequestContext: events.APIGatewayProxyRequestContext{
			HTTPMethod:   req.Method,
			ResourcePath: resource,
			Path:         req.URL.Path,
			Identity:     events.APIGatewayRequestIdentity{SourceIP: req.RemoteAddr},
		},
	}
	for k, v := range req.Header {
		event.Headers[k] = strings.Join(v, ",")
	}
	for k, v := range req.URL.Query() {
		event.QueryStringParameters[k] = v[len(v)-1]
	}
	if utf8.Valid(body) {
		event.Body = string(body)
	} else {
		event.Body = base64.StdEncoding.EncodeToString(body)
		event.IsBase64Encoded = true
	}
	return event, nil
}

func writeResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		if decoded, err := base64.StdEncoding.DecodeString(resp.Body); err == nil {
			body = decoded
		}
	}
	_, _ = w.Write(body)
}
