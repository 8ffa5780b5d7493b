// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wsbridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/loralink/pkg/session"
)

// ErrConnectionClosed is returned once the websocket has failed.
var ErrConnectionClosed = errors.New("websocket connection closed")

// responseMargin is added to every operation's own timeout to cover the
// round trip to the bridge.
const responseMargin = 2 * time.Second

// DialOptions configures Dial.
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	// CallTimeout bounds operations that carry no timeout of their own.
	CallTimeout time.Duration
}

// Client is a session.RadioTransport backed by a remote bridge.
type Client struct {
	conn        *websocket.Conn
	callTimeout time.Duration

	mu     sync.Mutex
	seq    uint32
	closed bool
}

// Dial connects to a bridge with optional HTTP Basic auth.
func Dial(ctx context.Context, wsURL string, opts DialOptions) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Client{conn: conn, callTimeout: callTimeout}, nil
}

// Close closes the websocket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.conn.Close()
}

// call sends one request and waits up to wait for its result.
func (c *Client) call(ctx context.Context, op string, t MsgType, req *Message, wait time.Duration) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, session.NewFault(op, session.FaultIO, 0, ErrConnectionClosed)
	}

	c.seq++
	req.Seq = c.seq
	data, err := Encode(t, req)
	if err != nil {
		return nil, session.NewFault(op, session.FaultUnsupported, 0, err)
	}

	glog.V(3).Infof("wsbridge -> %s seq=%d", t, req.Seq)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.closed = true
		return nil, session.NewFault(op, session.FaultIO, 0, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(wait))
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			// gorilla connections are unusable after a read error
			c.closed = true
			if ctx.Err() != nil {
				return nil, session.NewFault(op, session.FaultIO, 0, ctx.Err())
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, session.NewFault(op, session.FaultTimeout, 0, fmt.Errorf("no response from bridge"))
			}
			return nil, session.NewFault(op, session.FaultIO, 0, err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		rt, resp, err := Decode(data)
		if err != nil {
			glog.Warningf("wsbridge: dropping undecodable message: %v", err)
			continue
		}
		if rt != MsgResult || resp.Seq != req.Seq {
			glog.V(3).Infof("wsbridge: ignoring %s seq=%d", rt, resp.Seq)
			continue
		}
		glog.V(3).Infof("wsbridge <- %s seq=%d status=%d", rt, resp.Seq, resp.Status)
		return resp, nil
	}
}

// CreateModulationParams implements session.ParamFactory by asking the
// bridge, so the remote radio's restrictions apply.
func (c *Client) CreateModulationParams(sf session.SpreadingFactor, bw session.Bandwidth, cr session.CodingRate, freqHz uint32) (session.ModulationParams, error) {
	req := &Message{}
	req.setModulation(session.ModulationParams{SpreadingFactor: sf, Bandwidth: bw, CodingRate: cr, FrequencyHz: freqHz})
	resp, err := c.call(context.Background(), "create_modulation", MsgCreateModulation, req, c.callTimeout)
	if err != nil {
		return session.ModulationParams{}, err
	}
	if err := resp.err(); err != nil {
		return session.ModulationParams{}, err
	}
	return resp.modulation(), nil
}

// CreatePacketParams implements session.ParamFactory.
func (c *Client) CreatePacketParams(preamble uint16, implicitHeader bool, payloadLen uint8, crc, invertIQ bool, rxTimeout time.Duration, mp session.ModulationParams) (session.PacketParams, error) {
	req := &Message{}
	req.setModulation(mp)
	req.setPacket(session.PacketParams{
		PreambleSymbols: preamble,
		ImplicitHeader:  implicitHeader,
		PayloadLen:      payloadLen,
		CRC:             crc,
		InvertIQ:        invertIQ,
		RxTimeout:       rxTimeout,
	})
	resp, err := c.call(context.Background(), "create_packet", MsgCreatePacket, req, c.callTimeout)
	if err != nil {
		return session.PacketParams{}, err
	}
	if err := resp.err(); err != nil {
		return session.PacketParams{}, err
	}
	return resp.packet(), nil
}

// ConfigureModulation implements session.RadioTransport.
func (c *Client) ConfigureModulation(ctx context.Context, mp session.ModulationParams) error {
	req := &Message{}
	req.setModulation(mp)
	return c.simple(ctx, "configure_modulation", MsgConfigure, req, c.callTimeout)
}

// PrepareTransmit implements session.RadioTransport.
func (c *Client) PrepareTransmit(ctx context.Context, mp session.ModulationParams, powerDBm int8, boosted bool) error {
	req := &Message{PowerDBm: powerDBm, Boosted: boosted}
	req.setModulation(mp)
	return c.simple(ctx, "prepare_transmit", MsgPrepareTransmit, req, c.callTimeout)
}

// Transmit implements session.RadioTransport.
func (c *Client) Transmit(ctx context.Context, mp session.ModulationParams, pp session.PacketParams, frame session.Frame, timeout time.Duration) error {
	req := &Message{Frame: frame, TimeoutMs: durationMs(timeout)}
	req.setModulation(mp)
	req.setPacket(pp)
	return c.simple(ctx, "transmit", MsgTransmit, req, timeout+responseMargin)
}

// PrepareReceive implements session.RadioTransport.
func (c *Client) PrepareReceive(ctx context.Context, mp session.ModulationParams, pp session.PacketParams, rxBoost, continuous bool) error {
	req := &Message{RxBoost: rxBoost, Continuous: continuous}
	req.setModulation(mp)
	req.setPacket(pp)
	return c.simple(ctx, "prepare_receive", MsgPrepareReceive, req, c.callTimeout)
}

// Receive implements session.RadioTransport.
func (c *Client) Receive(ctx context.Context, pp session.PacketParams, out session.Frame) (int, session.LinkQuality, error) {
	req := &Message{}
	req.setPacket(pp)
	resp, err := c.call(ctx, "receive", MsgReceive, req, pp.RxTimeout+responseMargin)
	if err != nil {
		return 0, session.LinkQuality{}, err
	}
	if err := resp.err(); err != nil {
		return 0, session.LinkQuality{}, err
	}
	copy(out, resp.Frame)
	return int(resp.Received), session.LinkQuality{RSSI: resp.RSSI, SNR: resp.SNR}, nil
}

func (c *Client) simple(ctx context.Context, op string, t MsgType, req *Message, wait time.Duration) error {
	resp, err := c.call(ctx, op, t, req, wait)
	if err != nil {
		return err
	}
	return resp.err()
}

var _ session.RadioTransport = (*Client)(nil)
