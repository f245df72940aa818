package realtime

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultRequestTimeout = 15 * time.Second

type httpResult struct {
	status int
	body   []byte
	err    error
}

// do performs req with client and releases it. fasthttp has no context
// support, so the call runs in its own goroutine, which owns req and the
// response; a cancelled ctx returns early and leaves the request to finish
// on its timeout.
func do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, timeout time.Duration) (int, []byte, error) {
	if client == nil {
		client = &fasthttp.Client{}
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	resC := make(chan httpResult, 1)
	go func() {
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		err := client.DoTimeout(req, resp, timeout)
		// The body is only valid until resp is released.
		body := append([]byte(nil), resp.Body()...)
		resC <- httpResult{status: resp.StatusCode(), body: body, err: err}
	}()
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case res := <-resC:
		return res.status, res.body, res.err
	}
}
