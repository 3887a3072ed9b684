package client

import (
	"encoding/json"
	"net/http"
)

// storedResponse is the idempotency store encoding of a Response.
type storedResponse struct {
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	BaseURL    string      `json:"baseUrl,omitempty"`
}

// replayedHeaders are the response headers kept in the store.
var replayedHeaders = []string{"Content-Type", "Location", "ETag", "Last-Modified"}

func encodeStored(resp *Response) ([]byte, error) {
	s := storedResponse{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		BaseURL:    resp.BaseURL,
	}
	for _, name := range replayedHeaders {
		if v := resp.Header.Values(name); len(v) > 0 {
			if s.Header == nil {
				s.Header = make(http.Header)
			}
			s.Header[http.CanonicalHeaderKey(name)] = v
		}
	}
	return json.Marshal(s)
}

func decodeStored(data []byte) (*Response, error) {
	var s storedResponse
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Header == nil {
		s.Header = make(http.Header)
	}
	return &Response{
		StatusCode: s.StatusCode,
		Header:     s.Header,
		Body:       s.Body,
		BaseURL:    s.BaseURL,
		Replayed:   true,
	}, nil
}
