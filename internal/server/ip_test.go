package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"xff first public", map[string]string{"X-Forwarded-For": "10.0.0.1, 203.0.113.9, 198.51.100.2"}, "10.0.0.2:1", "203.0.113.9"},
		{"xff all private falls through", map[string]string{"X-Forwarded-For": "10.0.0.1"}, "192.168.1.4:80", "192.168.1.4"},
		{"cloudfront v4", map[string]string{"CloudFront-Viewer-Address": "203.0.113.55:44321"}, "10.0.0.2:1", "203.0.113.55"},
		{"cloudfront v6", map[string]string{"CloudFront-Viewer-Address": "2404:6800:4004::200e:44321"}, "10.0.0.2:1", "2404:6800:4004::200e"},
		{"remote addr", nil, "127.0.0.1:9000", "127.0.0.1"},
		{"garbage", nil, "nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/collect", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
