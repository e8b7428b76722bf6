package rest

import (
	"context"
	"encoding/json"
	"net/http"
)

// Response is a completed HTTP exchange with its body already read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

type result struct {
	resp *Response
	err  error
}

type queuedRequest struct {
	id     string
	key    string
	ctx    context.Context
	method string
	route  string
	body   []byte
	header http.Header
	done   chan result
}

// finish delivers the outcome exactly once; done is buffered so a caller
// that already gave up never blocks the worker.
func (q *queuedRequest) finish(resp *Response, err error) {
	select {
	case q.done <- result{resp: resp, err: err}:
	default:
	}
}
