package idempotency

import (
	"bytes"
	"net/http"
)

// Middleware replays the cached response for a repeated Idempotency-Key.
// Keys are namespaced by scope(r), typically the tenant, so two tenants never
// share an entry. Only 2xx responses are cached; a request that failed, for
// example on a rate limit, runs again when retried. Concurrent requests with
// the same key run the handler once and all receive its response.
func Middleware(cache *Cache, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if scope != nil {
				key = scope(r) + "\x00" + key
			}

			if e, ok := cache.Get(key); ok {
				writeEntry(w, e, true)
				return
			}

			leader := false
			v, _, _ := cache.flight.Do(key, func() (any, error) {
				leader = true
				rec := &recorder{header: make(http.Header), status: http.StatusOK}
				next.ServeHTTP(rec, r)
				e := &Entry{Body: rec.body.Bytes(), StatusCode: rec.status, Header: rec.header}
				if e.StatusCode >= 200 && e.StatusCode < 300 {
					cache.Set(key, e)
				}
				return e, nil
			})
			writeEntry(w, v.(*Entry), !leader)
		})
	}
}

func writeEntry(w http.ResponseWriter, e *Entry, replay bool) {
	for k, vs := range e.Header {
		w.Header()[k] = append([]string(nil), vs...)
	}
	if replay {
		w.Header().Set("Idempotency-Replay", "true")
	}
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.Body)
}

// recorder buffers a handler's response.
type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(b)
}
