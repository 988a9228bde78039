package middleware

import (
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
)

// Logging logs method/path/status/duration for every request that reaches
// the pipeline, regardless of outcome.
func Logging(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(sw, r)
	slog.Info("pipeline_request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", sw.status),
		slog.Duration("duration", time.Since(start)),
	)
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}
	sw.status = code
	sw.wroteHeader = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

// SuppressServerHeader strips any "Server" header a downstream handler or
// reverse proxy might otherwise leak.
func SuppressServerHeader(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
	w.Header().Del("Server")
	next.ServeHTTP(w, r)
}

// SecurityHeaders sets a conservative header set suitable for a JSON API.
func SecurityHeaders(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	next.ServeHTTP(w, r)
}

// NewCORS builds the CORS middleware link: it handles OPTIONS preflight by
// short-circuiting with 204 and never calling next.
func NewCORS(allowedOrigins []string) Middleware {
	h := cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		if r.Method == http.MethodOptions {
			h(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(w, r)
			return
		}
		h(next).ServeHTTP(w, r)
	}
}

// NewRateLimit builds a per-IP sliding-window rate limiter link backed by
// httprate, the teacher's existing choice for this concern.
func NewRateLimit(perMinute int) Middleware {
	limiter := httprate.NewRateLimiter(perMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	return func(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
		limiter.Handler(next).ServeHTTP(w, r)
	}
}

var gzipWriterPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// Compression gzip-encodes the response body when the client advertises
// support. It does not check whether the handler already set
// Content-Encoding.
func Compression(w http.ResponseWriter, r *http.Request, c *container.Container, next http.Handler) {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		next.ServeHTTP(w, r)
		return
	}
	gw := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(gw)

	cw := &compressWriter{ResponseWriter: w}
	gw.Reset(w)
	defer gw.Close()
	cw.gz = gw
	next.ServeHTTP(cw, r)
}

type compressWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	wroteHeader bool
}

func (cw *compressWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	if code != http.StatusNoContent && code != http.StatusNotModified {
		cw.Header().Set("Content-Encoding", "gzip")
		cw.Header().Del("Content-Length")
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.gz == nil {
		return cw.ResponseWriter.Write(b)
	}
	return cw.gz.Write(b)
}

// Global builds the built-in global middleware chain in the order required
// by §4.3: logging, server-header suppression, security headers, CORS,
// rate limiting, compression.
func Global(allowedOrigins []string, rateLimitPerMin int) *Chain {
	return New(
		Logging,
		SuppressServerHeader,
		SecurityHeaders,
		NewCORS(allowedOrigins),
		NewRateLimit(rateLimitPerMin),
		Compression,
	)
}
