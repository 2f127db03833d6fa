package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// callerKeyType keys the authenticated caller label in the request
// context.
type callerKeyType struct{}

var callerKey callerKeyType

// CallerLabel returns the label minted during authentication, such as
// "token:cret" for a token ending in "cret". It is empty when the API
// runs open.
func CallerLabel(ctx context.Context) string {
	label, _ := ctx.Value(callerKey).(string)
	return label
}

// requireAuth guards a handler with token auth. With no tokens
// configured every request passes anonymously. Credentials ride either
// in "Authorization: Bearer <token>" or in an "x-api-key" header; the
// Authorization header wins when both are present.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next(w, r)
			return
		}

		token := credentialFrom(r)
		if token == "" || !s.tokenMatches(token) {
			s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, callerLabelFor(token))
		next(w, r.WithContext(ctx))
	}
}

// credentialFrom pulls the presented token from the request headers.
func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
	}
	return r.Header.Get("x-api-key")
}

// tokenMatches compares the presented token against every configured
// token in constant time, touching all of them regardless of where a
// match lands.
func (s *Server) tokenMatches(token string) bool {
	ok := false
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			ok = true
		}
	}
	return ok
}

// callerLabelFor keeps the last four characters of the token so log
// lines can distinguish callers without recording the secret.
func callerLabelFor(token string) string {
	runes := []rune(token)
	if len(runes) > 4 {
		runes = runes[len(runes)-4:]
	}
	return "token:" + string(runes)
}
