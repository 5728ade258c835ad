package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoCredentials = errors.New("missing Authorization header")
	errBadAuthScheme = errors.New("authorization scheme must be Bearer")
	errEmptyToken    = errors.New("missing API key")
	errTokenMismatch = errors.New("invalid API key")
	errTokenInQuery  = errors.New("api_key query parameter is only accepted on /events")
)

const (
	eventsPath        = "/events"
	apiKeyQueryParam  = "api_key"
	bearerAuthPrefix  = "bearer "
	authenticateRealm = `Bearer realm="pxshell"`
)

// sessionToken returns the token a request presents. Only /events also accepts
// it as ?api_key=.
func sessionToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if q := r.URL.Query().Get(apiKeyQueryParam); q != "" {
			if r.URL.Path != eventsPath {
				return "", errTokenInQuery
			}
			return q, nil
		}
		return "", errNoCredentials
	}
	if len(header) < len(bearerAuthPrefix) || !strings.EqualFold(header[:len(bearerAuthPrefix)], bearerAuthPrefix) {
		return "", errBadAuthScheme
	}
	token := strings.TrimSpace(header[len(bearerAuthPrefix):])
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// tokenMatches compares in constant time. An unset session key matches nothing.
func tokenMatches(presented, sessionKey string) bool {
	if sessionKey == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(sessionKey)) == 1
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionToken(r)
		if err == nil && !tokenMatches(token, s.config.APIKey) {
			err = errTokenMismatch
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", authenticateRealm)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
