package lambdapipe

// HTTPFactory binds one option set and returns a constructor that builds request entry
// points sharing it.
func HTTPFactory[Req any](opts ...HTTPOption) func(HTTPHandlerFunc[Req]) *HTTPHandler[Req] {
	shared := append([]HTTPOption(nil), opts...)
	return func(handler HTTPHandlerFunc[Req]) *HTTPHandler[Req] {
		return NewHTTPHandler(handler, shared...)
	}
}

// SQSFactory binds a client and one option set and returns a constructor that builds
// batch entry points sharing them.
func SQSFactory[T any](client SQSClient, opts ...SQSOption) func(SQSHandlerFunc[T]) *SQSHandler[T] {
	shared := append([]SQSOption(nil), opts...)
	return func(handler SQSHandlerFunc[T]) *SQSHandler[T] {
		return NewSQSHandler(client, handler, shared...)
	}
}
