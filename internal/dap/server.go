package dap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// EventSender pushes unsolicited events to the client. It is safe to
// call concurrently with request handling.
type EventSender interface {
	SendEvent(event string, body interface{}) error
}

// Handler processes one decoded request and returns the response body.
// A returned *RequestError becomes a structured error response; any
// other error becomes a plain failed response. Handlers may push events
// through the EventSender they were constructed with before returning.
type Handler interface {
	HandleRequest(req *Request) (interface{}, error)
}

// PostHandler is an optional extension for handlers that need to push
// events which must follow the response on the wire (for example the
// initialized signal).
type PostHandler interface {
	AfterResponse(req *Request)
}

// RequestError is a structured protocol error with a numeric code.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error %d: %s", e.Code, e.Message)
}

// Server reads requests from a transport one at a time, hands each to
// the handler, and writes exactly one response per request. Events may
// be interleaved from other goroutines; the transport serializes writes.
type Server struct {
	transport Transport
	handler   Handler
	seq       int64
	log       zerolog.Logger
}

// NewServer creates a server on the given transport. The handler is set
// separately so it can hold the server as its event sender.
func NewServer(transport Transport, log zerolog.Logger) *Server {
	return &Server{transport: transport, log: log}
}

// SetHandler installs the request handler. Must be called before Serve.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// nextSeq returns the next outbound sequence number. Responses and
// events share one counter.
func (s *Server) nextSeq() int {
	return int(atomic.AddInt64(&s.seq, 1))
}

// Serve processes requests until the transport fails or closes. A clean
// EOF returns nil.
func (s *Server) Serve() error {
	if s.handler == nil {
		return errors.New("dap: no handler installed")
	}

	for {
		msg, err := s.transport.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		var req Request
		if err := json.Unmarshal(msg.Content, &req); err != nil {
			s.log.Warn().Err(err).Msg("discarding unparseable message")
			continue
		}
		if req.Type != "request" {
			s.log.Warn().Str("type", req.Type).Msg("discarding non-request message")
			continue
		}

		s.log.Debug().Str("command", req.Command).Int("seq", req.Seq).Msg("request")

		if err := s.dispatch(&req); err != nil {
			return err
		}
	}
}

// dispatch runs the handler and sends the response. The handler is run
// under panic recovery so a response is sent on every path.
func (s *Server) dispatch(req *Request) error {
	body, err := s.safeHandle(req)

	resp := Response{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
	}

	switch {
	case err == nil:
		resp.Success = true
		resp.Body = body
	default:
		resp.Success = false
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			resp.Message = reqErr.Message
			resp.Body = ErrorResponseBody{Error: &ErrorMessage{ID: reqErr.Code, Format: reqErr.Message}}
		} else {
			resp.Message = err.Error()
		}
	}

	s.log.Debug().Str("command", req.Command).Bool("success", resp.Success).Msg("response")

	if err := s.send(resp); err != nil {
		return err
	}

	if ph, ok := s.handler.(PostHandler); ok {
		ph.AfterResponse(req)
	}
	return nil
}

// safeHandle invokes the handler with panic recovery.
func (s *Server) safeHandle(req *Request) (body interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("command", req.Command).Msg("handler panic")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return s.handler.HandleRequest(req)
}

// SendEvent pushes an event to the client.
func (s *Server) SendEvent(event string, body interface{}) error {
	evt := Event{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           event,
		Body:            body,
	}

	s.log.Debug().Str("event", event).Msg("event")

	return s.send(evt)
}

// send marshals and writes one outbound message.
func (s *Server) send(v interface{}) error {
	content, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.transport.Send(&Message{ContentLength: len(content), Content: content})
}
