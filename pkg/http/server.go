// Copyright The Lowmem Responder Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	logger "github.com/containers/lowmem-responder/pkg/log"
)

// ServeMux is our HTTP request multiplexer. Handlers can be registered on
// it before the server is started and survive server restarts.
type ServeMux struct {
	sync.Mutex
	handlers map[string]http.Handler
	mux      *http.ServeMux
}

// Server is a shared HTTP server instance.
type Server struct {
	sync.Mutex
	mux      *ServeMux
	ln       net.Listener
	srv      *http.Server
	endpoint string
}

var log = logger.NewLogger("http")

// NewServer creates a new HTTP server instance.
func NewServer() *Server {
	return &Server{
		mux: newServeMux(),
	}
}

// GetMux returns the request multiplexer of the server.
func (s *Server) GetMux() *ServeMux {
	return s.mux
}

// Start starts the server listening on the given endpoint. An empty
// endpoint leaves the server stopped.
func (s *Server) Start(endpoint string) error {
	s.Lock()
	defer s.Unlock()

	if endpoint == "" {
		log.Info("no endpoint given, HTTP server not started")
		return nil
	}
	if s.ln != nil {
		if s.endpoint == endpoint {
			return nil
		}
		s.stop()
	}

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return httpError("failed to listen on %s: %v", endpoint, err)
	}

	s.ln = ln
	s.endpoint = endpoint
	s.srv = &http.Server{Handler: s.mux}

	go func(srv *http.Server, ln net.Listener) {
		log.Info("listening on %s...", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("server exited: %v", err)
		}
	}(s.srv, s.ln)

	return nil
}

// Stop stops the server.
func (s *Server) Stop() {
	s.Lock()
	defer s.Unlock()
	s.stop()
}

func (s *Server) stop() {
	if s.srv == nil {
		return
	}
	if err := s.srv.Close(); err != nil {
		log.Warn("failed to close server: %v", err)
	}
	s.srv = nil
	s.ln = nil
	s.endpoint = ""
}

func newServeMux() *ServeMux {
	return &ServeMux{
		handlers: make(map[string]http.Handler),
		mux:      http.NewServeMux(),
	}
}

// Handle registers a handler for the given pattern.
func (m *ServeMux) Handle(pattern string, handler http.Handler) {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.handlers[pattern]; ok {
		log.Warn("pattern %q already has a registered handler", pattern)
		return
	}
	m.handlers[pattern] = handler
	m.mux.Handle(pattern, handler)
}

// HandleFunc registers a handler function for the given pattern.
func (m *ServeMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(handler))
}

// ServeHTTP serves an HTTP request.
func (m *ServeMux) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	m.mux.ServeHTTP(w, req)
}

// httpError returns a new formatted error specific to HTTP serving.
func httpError(format string, args ...interface{}) error {
	return fmt.Errorf("http: "+format, args...)
}
