package httpmw

import "net/http"

const requestTooLargeBody = `{"message":"Request body too large."}` + "\n"

// MaxBody caps request bodies at n bytes. A declared Content-Length over the
// cap is rejected with 413 before the handler runs; otherwise reads past the
// cap fail with *http.MaxBytesError and the handler decides the response.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(requestTooLargeBody))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
