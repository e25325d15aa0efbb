// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lukaszwojciechowski/cynara/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. This is separate from the server's read/write
// timeouts: it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
// Matches the server's maxRequestSize for symmetry.
const maxResponseSize = 16 * 1024 * 1024

// ServiceError is returned by Call and OpenStream when the server
// responds with ok=false.
type ServiceError struct {
	Action  string
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("service error on %q (%s): %s", e.Action, e.Code, e.Message)
	}
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient sends CBOR requests to a cynara socket. Each Call
// opens a new connection (matching the server's one-request-per-
// connection model), sends the request, reads the response, and
// closes the connection.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient creates a client for the socket at socketPath.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// SocketPath returns the socket the client connects to.
func (c *ServiceClient) SocketPath() string {
	return c.socketPath
}

// Call sends a CBOR request to the service and decodes the response.
//
// fields is any value that encodes as a CBOR map (a struct or a map);
// the client adds "action". Pass nil for actions that take no
// parameters.
//
// On success, if result is non-nil and the response contains data, the
// data is CBOR-decoded into result. On failure (response ok=false),
// returns a *ServiceError. Connection and encoding errors are returned
// as plain errors.
func (c *ServiceClient) Call(ctx context.Context, action string, fields any, result any) error {
	request, err := buildRequest(action, fields)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Code: response.Code, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// Stream is an open stream connection. Send and Receive may be used
// from different goroutines, but each from only one at a time.
type Stream struct {
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder

	// Ack is the data of the server's acknowledgement, if any.
	Ack codec.RawMessage
}

// OpenStream opens a stream action and waits for the server's
// acknowledgement. A rejection is returned as *ServiceError.
func (c *ServiceClient) OpenStream(ctx context.Context, action string, fields any) (*Stream, error) {
	request, err := buildRequest(action, fields)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("opening %q on %s: %w", action, c.socketPath, err)
	}

	stream := &Stream{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var ack Response
	if err := stream.decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening %q on %s: reading acknowledgement: %w", action, c.socketPath, err)
	}
	conn.SetReadDeadline(time.Time{})
	if !ack.OK {
		conn.Close()
		return nil, &ServiceError{Action: action, Code: ack.Code, Message: ack.Error}
	}
	stream.Ack = ack.Data
	return stream, nil
}

// Send writes one value to the stream.
func (s *Stream) Send(value any) error {
	return s.encoder.Encode(value)
}

// Receive reads one value from the stream. It returns io.EOF once the
// server closed the stream.
func (s *Stream) Receive(value any) error {
	return s.decoder.Decode(value)
}

// DecodeAck decodes the acknowledgement data into value.
func (s *Stream) DecodeAck(value any) error {
	if len(s.Ack) == 0 {
		return nil
	}
	return codec.Unmarshal(s.Ack, value)
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// buildRequest flattens fields into a CBOR map and injects "action".
func buildRequest(action string, fields any) (map[string]any, error) {
	request := make(map[string]any)
	if fields != nil {
		data, err := codec.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encoding %q request: %w", action, err)
		}
		if err := codec.Unmarshal(data, &request); err != nil {
			return nil, fmt.Errorf("%q request fields must encode as a map: %w", action, err)
		}
	}
	request["action"] = action
	return request, nil
}

// dial connects to the socket and writes the request.
func (c *ServiceClient) dial(ctx context.Context, request any) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}
	return conn, nil
}
