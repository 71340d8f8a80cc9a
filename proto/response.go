package proto

import (
	"encoding/json"
	"fmt"

	"github.com/pushrpc/prpc/channel"
)

// From attributes an RPC result to the channel, connection and user it
// originated from.
type From struct {
	Channel  *channel.Channel `json:"channel,omitempty"`
	SocketID string           `json:"socket_id,omitempty"`
	User     *Member          `json:"user,omitempty"`
}

// ResponseError is the structured error branch of an RPC response, carried
// when the backend route handler fails.
type ResponseError struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"httpStatus"`
	Path       string `json:"path"`
	Stack      string `json:"stack,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("rpc error %s (http %d) at %s", e.Code, e.HTTPStatus, e.Path)
}

// Response is the outcome of one RPC call, discriminated between a result
// with server-side provenance and a structured error. The error branch
// carries no server-side provenance, so From is synthesized from local
// context by the caller and failures stay attributable.
type Response struct {
	Result json.RawMessage
	From   *From
	Err    *ResponseError
}

type responseItem struct {
	Result *struct {
		Data struct {
			JSON json.RawMessage `json:"json"`
		} `json:"data"`
	} `json:"result"`
	Error *struct {
		JSON struct {
			Data ResponseError `json:"data"`
		} `json:"json"`
	} `json:"error"`
}

type responseBody struct {
	Result json.RawMessage `json:"result"`
	From   *From           `json:"from"`
}

// ParseResponse interprets the batched RPC array response. localFrom fills
// in provenance on the error branch. A body that is not shaped as a
// non-empty JSON array is a protocol violation and returns an error; the
// caller decides whether to surface it or drop the response.
func ParseResponse(body []byte, localFrom *From) (*Response, error) {
	var items []responseItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("rpc response is not an array: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("rpc response array is empty")
	}

	item := items[0]
	resp := &Response{}

	switch {
	case item.Result != nil && len(item.Result.Data.JSON) > 0:
		var rb responseBody
		if err := json.Unmarshal(item.Result.Data.JSON, &rb); err != nil {
			return nil, fmt.Errorf("malformed rpc result: %w", err)
		}
		resp.Result = rb.Result
		resp.From = rb.From
	case item.Error != nil:
		e := item.Error.JSON.Data
		resp.Err = &e
		resp.From = localFrom
	}

	return resp, nil
}
