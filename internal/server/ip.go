package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// 클라이언트 IP 추출
//
// collector 는 보통 로드밸런서 / CDN 뒤에 있다.
// 우선순위:
//  1. X-Forwarded-For 의 첫 번째 public IP
//  2. CloudFront-Viewer-Address (포트 제거)
//  3. RemoteAddr (private 이어도 그대로 사용, 사이드카 / 로컬 실행)
// ------------------------------------------------------------

func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsUnspecified()
}

func parseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := parseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	// "203.0.113.55:44321" / "2404:6800:4004::200e:44321"
	if cf := r.Header.Get("CloudFront-Viewer-Address"); cf != "" {
		host := cf
		if i := strings.LastIndex(cf, ":"); i != -1 {
			host = cf[:i]
		}
		if ip := parseIP(host); isPublicIP(ip) {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
