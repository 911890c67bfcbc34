// Paper Tracker Link
// Copyright (c) 2026 The Paper Tracker Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Paper Tracker Link.
//
// Paper Tracker Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Paper Tracker Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Paper Tracker Link.  If not, see <http://www.gnu.org/licenses/>.

// Package api serves the local JSON-RPC API used by the tracker UI. Requests
// arrive over a WebSocket or as HTTP POSTs; link events, tool progress and
// device reports are pushed to every WebSocket client as notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/papertracker/trackerlink/pkg/api/methods"
	apimiddleware "github.com/papertracker/trackerlink/pkg/api/middleware"
	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/api/models/requests"
	"github.com/papertracker/trackerlink/pkg/api/notifications"
	"github.com/papertracker/trackerlink/pkg/api/validation"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/control"
	"github.com/papertracker/trackerlink/pkg/registry"
	"github.com/papertracker/trackerlink/pkg/stream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	Path            = "/api"
	maxBodySize     = 1 << 20
	shutdownTimeout = 5 * time.Second
	sessionIDKey    = "session_id"
)

var ErrUnknownMethod = errors.New("unknown method")

// Handler implements one API method.
type Handler func(requests.RequestEnv) (any, error)

// MethodMap is the method table. It is filled before serving starts and
// only read afterwards.
type MethodMap struct {
	methods map[string]Handler
}

func NewMethodMap() *MethodMap {
	return &MethodMap{methods: make(map[string]Handler)}
}

// AddMethod registers fn under a case-insensitive name.
func (m *MethodMap) AddMethod(name string, fn Handler) error {
	key := strings.ToLower(name)
	if _, exists := m.methods[key]; exists {
		return fmt.Errorf("method already registered: %s", name)
	}
	m.methods[key] = fn
	return nil
}

func (m *MethodMap) GetMethod(name string) (Handler, bool) {
	fn, ok := m.methods[strings.ToLower(name)]
	return fn, ok
}

// DefaultMethods returns every method of the API.
func DefaultMethods() *MethodMap {
	m := NewMethodMap()
	for name, fn := range map[string]Handler{
		models.MethodSerialOpen:       methods.HandleSerialOpen,
		models.MethodSerialClose:      methods.HandleSerialClose,
		models.MethodSerialWifi:       methods.HandleSerialWifi,
		models.MethodSerialBrightness: methods.HandleSerialBrightness,
		models.MethodDeviceRestart:    methods.HandleDeviceRestart,
		models.MethodDeviceFlash:      methods.HandleDeviceFlash,
		models.MethodLinkStatus:       methods.HandleLinkStatus,
		models.MethodLinks:            methods.HandleLinks,
		models.MethodStreamFrame:      methods.HandleStreamFrame,
		models.MethodStreamRotation:   methods.HandleStreamRotation,
		models.MethodStreamStatus:     methods.HandleStreamStatus,
		models.MethodVersion:          methods.HandleVersion,
	} {
		_ = m.AddMethod(name, fn)
	}
	return m
}

// Server is the local API server.
type Server struct {
	cfg     *config.Instance
	reg     *registry.Registry
	facade  *control.Facade
	methods *MethodMap
	limiter *apimiddleware.IPRateLimiter
	melody  *melody.Melody
	baseCtx context.Context
}

func NewServer(cfg *config.Instance, reg *registry.Registry, facade *control.Facade) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		facade:  facade,
		methods: DefaultMethods(),
		limiter: apimiddleware.NewIPRateLimiter(nil),
		melody:  melody.New(),
		baseCtx: context.Background(),
	}
	s.melody.Config.MaxMessageSize = maxBodySize
	s.melody.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.melody.HandleConnect(func(session *melody.Session) {
		id := uuid.New().String()
		session.Set(sessionIDKey, id)
		log.Debug().Str("session", id).Str("remote", session.Request.RemoteAddr).Msg("api client connected")
	})
	s.melody.HandleDisconnect(func(session *melody.Session) {
		id, _ := session.Get(sessionIDKey)
		log.Debug().Interface("session", id).Msg("api client disconnected")
	})
	s.melody.HandleMessage(apimiddleware.WebSocketRateLimitHandler(s.limiter, s.handleWSMessage))
	return s
}

// Methods exposes the method table for registering extra methods.
func (s *Server) Methods() *MethodMap {
	return s.methods
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(apimiddleware.HTTPRateLimitMiddleware(s.limiter))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get(Path, func(w http.ResponseWriter, r *http.Request) {
		if err := s.melody.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})
	r.Post(Path, s.handlePost)
	r.Get(Path+"/v1/status", s.handleStatus)
	r.Get(Path+"/v1/frames/{role}", s.handleFrame)

	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.APIListen(), strconv.Itoa(s.cfg.APIPort()))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ns := make(chan models.Notification, 32)

	log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.melody.Close(); err != nil {
			log.Debug().Err(err).Msg("closing websocket sessions")
		}
		//nolint:contextcheck // shutdown must outlive the cancelled context
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return notifications.Forward(gctx, s.reg, ns)
	})
	g.Go(func() error {
		s.broadcast(gctx, ns)
		return nil
	})
	g.Go(func() error {
		s.limiter.RunCleanup(gctx)
		return nil
	})
	return g.Wait()
}

func (s *Server) broadcast(ctx context.Context, ns <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ns:
			params, err := json.Marshal(n.Params)
			if err != nil {
				log.Error().Err(err).Str("method", n.Method).Msg("marshalling notification params")
				continue
			}
			data, err := json.Marshal(models.RequestObject{
				JSONRPC: "2.0",
				Method:  n.Method,
				Params:  params,
			})
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification")
				continue
			}
			if err := s.melody.Broadcast(data); err != nil && !errors.Is(err, melody.ErrClosed) {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// dispatch runs one request and returns the result or the error object to
// send back.
func (s *Server) dispatch(req models.RequestObject, remoteAddr string) (any, *models.ErrorObject) {
	fn, ok := s.methods.GetMethod(req.Method)
	if !ok {
		log.Warn().Str("method", req.Method).Msg("unknown api method")
		e := models.ErrorMethodNotFound
		return nil, &e
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, config.APIRequestTimeout)
	defer cancel()

	var id uuid.UUID
	if req.ID != nil {
		id = *req.ID
	}
	log.Debug().Str("method", req.Method).Str("id", id.String()).Msg("received request")

	res, err := fn(requests.RequestEnv{
		Context: ctx,
		Facade:  s.facade,
		Config:  s.cfg,
		Params:  req.Params,
		ID:      id,
		IsLocal: apimiddleware.IsLoopbackAddr(remoteAddr),
	})
	if err != nil {
		log.Debug().Err(err).Str("method", req.Method).Msg("request failed")
		e := errorObject(err)
		return nil, &e
	}
	return res, nil
}

// errorObject maps handler errors to JSON-RPC errors. The message always
// names the reason.
func errorObject(err error) models.ErrorObject {
	var verr *validation.Error
	switch {
	case errors.Is(err, validation.ErrMissingParams),
		errors.Is(err, validation.ErrInvalidParams),
		errors.As(err, &verr),
		errors.Is(err, registry.ErrInvalidRole):
		return models.ErrorObject{Code: models.ErrorInvalidParams.Code, Message: err.Error()}
	default:
		return models.ErrorObject{Code: models.ErrorServer.Code, Message: err.Error()}
	}
}

// parseRequest validates the envelope of a request.
func parseRequest(msg []byte) (models.RequestObject, *models.ErrorObject) {
	var req models.RequestObject
	if !json.Valid(msg) {
		e := models.ErrorParse
		return req, &e
	}
	if err := json.Unmarshal(msg, &req); err != nil || req.JSONRPC != "2.0" || req.Method == "" {
		e := models.ErrorInvalidRequest
		return req, &e
	}
	return req, nil
}

func marshalResponse(id *uuid.UUID, result any, e *models.ErrorObject) ([]byte, error) {
	resp := models.ResponseObject{JSONRPC: "2.0", Result: result, Error: e}
	if id != nil {
		resp.ID = *id
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("error marshalling response: %w", err)
	}
	return data, nil
}

func (s *Server) handleWSMessage(session *melody.Session, msg []byte) {
	if string(msg) == "ping" {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}

	req, perr := parseRequest(msg)
	if perr == nil && req.ID == nil {
		log.Debug().Str("method", req.Method).Msg("received notification, ignoring")
		return
	}

	var result any
	if perr == nil {
		result, perr = s.dispatch(req, session.Request.RemoteAddr)
	}
	data, err := marshalResponse(req.ID, result, perr)
	if err != nil {
		log.Error().Err(err).Msg("building response")
		return
	}
	if err := session.Write(data); err != nil {
		log.Error().Err(err).Msg("sending response")
	}
}

// handlePost answers a JSON-RPC request sent as an HTTP POST. JSON-RPC
// errors still use status 200.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req, perr := parseRequest(body)
	var result any
	if perr == nil {
		result, perr = s.dispatch(req, r.RemoteAddr)
	}
	data, err := marshalResponse(req.ID, result, perr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.facade.Snapshot()); err != nil {
		log.Error().Err(err).Msg("writing status")
	}
}

// handleFrame serves the latest frame of a role as a JPEG image.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSuffix(chi.URLParam(r, "role"), ".jpg")
	f, err := s.facade.GetFrame(r.Context(), control.RoleParams{Role: role})
	var verr *validation.Error
	switch {
	case err == nil:
	case errors.As(err, &verr):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, stream.ErrNoFrame):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	data, err := stream.EncodeJPEG(f.Image, stream.JPEGQuality)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Last-Modified", f.CapturedAt.UTC().Format(http.TimeFormat))
	_, _ = w.Write(data)
}
