package util

import (
	"net/http"
	"strings"
)

const authorizationHeader = "Authorization"

func HTTPBearerAuth(token string) string {
	return "Bearer " + token
}

func SetBearerAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set(authorizationHeader, HTTPBearerAuth(token))
}

// PullBearerToken removes the Authorization header and returns its bearer token.
func PullBearerToken(req *http.Request) (bool, string) {
	authheader := strings.SplitN(req.Header.Get(authorizationHeader), " ", 2)
	req.Header.Del(authorizationHeader)

	if len(authheader) != 2 || strings.ToLower(authheader[0]) != "bearer" {
		return false, ""
	}

	token := strings.TrimSpace(authheader[1])
	return token != "", token
}
