// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wsbridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/loralink/pkg/session"
)

// ErrRadioInUse is returned by Exclusive when another client holds the
// radio.
var ErrRadioInUse = errors.New("radio in use by another client")

// Provider hands a radio to a connecting client. release is called when
// the client disconnects.
type Provider func() (radio session.RadioTransport, release func(), err error)

// Exclusive shares one radio with one client at a time.
func Exclusive(radio session.RadioTransport) Provider {
	var mu sync.Mutex
	inUse := false
	return func() (session.RadioTransport, func(), error) {
		mu.Lock()
		defer mu.Unlock()
		if inUse {
			return nil, nil, ErrRadioInUse
		}
		inUse = true
		return radio, func() {
			mu.Lock()
			inUse = false
			mu.Unlock()
		}, nil
	}
}

// Server exposes radios to bridge clients over websocket.
type Server struct {
	provider Provider
	username string
	password string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBasicAuth requires HTTP Basic credentials on upgrade.
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// NewServer creates a bridge server.
func NewServer(provider Provider, opts ...ServerOption) *Server {
	s := &Server{
		provider: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  MaxMessageSize,
			WriteBufferSize: MaxMessageSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}

func (s *Server) authorized(r *http.Request) bool {
	if s.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="loralink"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	radio, release, err := s.provider()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("wsbridge: upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.clients--
		s.mu.Unlock()
	}()

	glog.Infof("wsbridge: client %s connected", r.RemoteAddr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.serve(ctx, conn, radio)
	glog.Infof("wsbridge: client %s disconnected", r.RemoteAddr)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, radio session.RadioTransport) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("wsbridge: read: %v", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		t, req, err := Decode(data)
		if err != nil {
			glog.Warningf("wsbridge: dropping undecodable message: %v", err)
			continue
		}

		resp := s.dispatch(ctx, radio, t, req)
		resp.Seq = req.Seq
		out, err := Encode(MsgResult, resp)
		if err != nil {
			glog.Errorf("wsbridge: encode result: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			glog.V(1).Infof("wsbridge: write: %v", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, radio session.RadioTransport, t MsgType, req *Message) *Message {
	resp := &Message{}
	glog.V(3).Infof("wsbridge: %s seq=%d", t, req.Seq)

	switch t {
	case MsgCreateModulation:
		mp, err := radio.CreateModulationParams(
			session.SpreadingFactor(req.SpreadingFactor), session.Bandwidth(req.Bandwidth),
			session.CodingRate(req.CodingRate), req.FrequencyHz)
		resp.setError(err)
		if err == nil {
			resp.setModulation(mp)
		}

	case MsgCreatePacket:
		pp := req.packet()
		pp, err := radio.CreatePacketParams(pp.PreambleSymbols, pp.ImplicitHeader, pp.PayloadLen,
			pp.CRC, pp.InvertIQ, pp.RxTimeout, req.modulation())
		resp.setError(err)
		if err == nil {
			resp.setPacket(pp)
		}

	case MsgConfigure:
		err := radio.ConfigureModulation(ctx, req.modulation())
		resp.setError(asFault("configure_modulation", err))

	case MsgPrepareTransmit:
		err := radio.PrepareTransmit(ctx, req.modulation(), req.PowerDBm, req.Boosted)
		resp.setError(asFault("prepare_transmit", err))

	case MsgTransmit:
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		err := radio.Transmit(ctx, req.modulation(), req.packet(), session.Frame(req.Frame), timeout)
		resp.setError(asFault("transmit", err))

	case MsgPrepareReceive:
		err := radio.PrepareReceive(ctx, req.modulation(), req.packet(), req.RxBoost, req.Continuous)
		resp.setError(asFault("prepare_receive", err))

	case MsgReceive:
		out := session.NewFrame(255)
		n, q, err := radio.Receive(ctx, req.packet(), out)
		resp.setError(asFault("receive", err))
		if err == nil {
			resp.Received = int32(n)
			resp.RSSI = q.RSSI
			resp.SNR = q.SNR
			resp.Frame = out[:min(n, len(out))]
		}

	default:
		resp.setError(session.NewFault(t.String(), session.FaultUnsupported, 0, nil))
	}
	return resp
}

// asFault keeps nil errors untyped so setError sees success.
func asFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return session.AsFault(op, err)
}
