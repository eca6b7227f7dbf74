package enclave

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/zkinput"
)

const connectionTimeout = 30 * time.Second

// ServerConfig wires the enclave server.
type ServerConfig struct {
	Keys     *KeyManager
	Verifier *zkinput.Verifier
	Attester EnclaveAttester // nil outside a Nitro enclave
	// MaxWorkers bounds concurrent connections; extra connections are
	// rejected immediately.
	MaxWorkers int
	Log        logrus.FieldLogger
}

// Server serves the coprocessor and oracle over a stream listener (vsock in
// production, TCP in development), one request per connection.
type Server struct {
	cop        *Coprocessor
	oracle     *Oracle
	keys       *KeyManager
	verifier   *zkinput.Verifier
	attester   EnclaveAttester
	maxWorkers int
	log        logrus.FieldLogger
}

// NewServer builds the coprocessor and oracle from cfg.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Keys == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("enclave server requires keys and a proof verifier")
	}
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("invalid max workers: %d", cfg.MaxWorkers)
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	cop := NewCoprocessor(cfg.Keys, cfg.Verifier, log)
	oracle, err := NewOracle(cop, cfg.Keys, log)
	if err != nil {
		return nil, err
	}

	return &Server{
		cop:        cop,
		oracle:     oracle,
		keys:       cfg.Keys,
		verifier:   cfg.Verifier,
		attester:   cfg.Attester,
		maxWorkers: cfg.MaxWorkers,
		log:        log.WithField("component", "enclave_server"),
	}, nil
}

// Coprocessor exposes the in-process coprocessor for embedded deployments.
func (s *Server) Coprocessor() *Coprocessor {
	return s.cop
}

// Oracle exposes the in-process oracle for embedded deployments.
func (s *Server) Oracle() *Oracle {
	return s.oracle
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.log.WithError(err).Error("failed to close listener")
		}
	}()

	s.log.WithFields(logrus.Fields{
		"addr":        listener.Addr().String(),
		"max_workers": s.maxWorkers,
	}).Info("enclave server listening")

	semaphore := make(chan struct{}, s.maxWorkers)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.WithError(err).Error("failed to accept connection")
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.log.Info("no workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				s.log.WithError(err).Error("failed to close rejected connection")
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("panic recovered in handleConnection")
		}
		if err := conn.Close(); err != nil {
			s.log.WithError(err).Debug("failed to close connection")
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(connectionTimeout))

	var req enclaveapi.Request
	if err := cbor.NewDecoder(conn).Decode(&req); err != nil {
		s.log.WithError(err).Error("failed to decode request")
		return
	}

	resp := s.Handle(ctx, req)
	if err := cbor.NewEncoder(conn).Encode(resp); err != nil {
		s.log.WithError(err).WithField("type", req.Type).Error("failed to encode response")
	}
}

// Handle executes one request. It is exported so embedded deployments and
// tests can bypass the transport.
func (s *Server) Handle(ctx context.Context, req enclaveapi.Request) enclaveapi.Response {
	body, err := s.dispatch(ctx, req)
	if err != nil {
		if !errors.Is(err, errBadRequest) {
			s.log.WithError(err).WithField("type", req.Type).Warn("request failed")
		}
		return enclaveapi.Response{Type: "error", Error: enclaveapi.NewError(err)}
	}

	encoded, err := cbor.Marshal(body)
	if err != nil {
		return enclaveapi.Response{Type: "error", Error: enclaveapi.NewError(fmt.Errorf("encode response: %w", err))}
	}
	return enclaveapi.Response{Type: req.Type, Body: encoded}
}

var errBadRequest = errors.New("bad request")

func decodeBody(req enclaveapi.Request, out any) error {
	if err := cbor.Unmarshal(req.Body, out); err != nil {
		return fmt.Errorf("%w: decode %s body: %v", errBadRequest, req.Type, err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req enclaveapi.Request) (any, error) {
	switch req.Type {
	case enclaveapi.TypePing:
		return enclaveapi.PingResponse{Message: "TEE server is healthy", Timestamp: time.Now().Unix()}, nil

	case enclaveapi.TypeKeyRequest:
		return HandleKeyRequest(s.attester, s.keys, s.verifier)

	case enclaveapi.TypeVerifyInput:
		var body enclaveapi.VerifyInputRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		h, err := s.cop.VerifyInput(ctx, body.Owner, body.Input, body.Binding)
		return enclaveapi.HandleResponse{Handle: h}, err

	case enclaveapi.TypeTrivialEncrypt:
		var body enclaveapi.TrivialEncryptRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		switch body.Kind {
		case enclaveapi.KindUint64:
			h, err := s.cop.TrivialEncrypt64(ctx, body.Owner, body.Uint64)
			return enclaveapi.HandleResponse{Handle: h}, err
		case enclaveapi.KindAddress:
			h, err := s.cop.TrivialEncryptAddress(ctx, body.Owner, body.Address)
			return enclaveapi.HandleResponse{Handle: h}, err
		default:
			return nil, fmt.Errorf("%w: cannot trivially encrypt %s", enclaveapi.ErrTypeMismatch, body.Kind)
		}

	case enclaveapi.TypeCompute:
		var body enclaveapi.ComputeRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		switch {
		case body.Op == enclaveapi.OpGt && len(body.Operands) == 2:
			h, err := s.cop.Gt(ctx, body.Caller, body.Operands[0], body.Operands[1])
			return enclaveapi.HandleResponse{Handle: h}, err
		case body.Op == enclaveapi.OpSelect && len(body.Operands) == 3:
			h, err := s.cop.Select(ctx, body.Caller, body.Operands[0], body.Operands[1], body.Operands[2])
			return enclaveapi.HandleResponse{Handle: h}, err
		default:
			return nil, fmt.Errorf("%w: unsupported op %q with %d operands", errBadRequest, body.Op, len(body.Operands))
		}

	case enclaveapi.TypeAllowDecrypt:
		var body enclaveapi.AllowDecryptRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return struct{}{}, s.cop.AllowPublicDecrypt(ctx, body.Caller, body.Handles...)

	case enclaveapi.TypeRelease:
		var body enclaveapi.ReleaseRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return struct{}{}, s.cop.Release(ctx, body.Caller, body.Handles...)

	case enclaveapi.TypeDecrypt:
		var body enclaveapi.DecryptRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		values, err := s.cop.Decrypt(ctx, body.Handles...)
		return enclaveapi.DecryptResponse{Values: values}, err

	case enclaveapi.TypeOracleDecrypt:
		var job enclaveapi.DecryptionJob
		if err := decodeBody(req, &job); err != nil {
			return nil, err
		}
		return s.oracle.OracleDecrypt(ctx, job)

	default:
		return nil, fmt.Errorf("%w: unknown request type: %s", errBadRequest, req.Type)
	}
}
