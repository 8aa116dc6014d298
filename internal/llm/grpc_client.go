package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultMethod is the unary RPC carrying the prompt and the reply as
// google.protobuf.StringValue messages.
const DefaultMethod = "/planner.v1.Assistant/GenerateReply"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcGenerator calls the provider over a unary gRPC method.
type GrpcGenerator struct {
	conn    *grpc.ClientConn
	addr    string
	method  string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Generator = (*GrpcGenerator)(nil)

// GrpcConfig holds configuration for the gRPC generator.
type GrpcConfig struct {
	Address          string
	Method           string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		Method:           DefaultMethod,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcGenerator connects to the provider and waits until the connection
// is ready, so a bad endpoint fails at startup. Extra dial options are
// appended after the defaults.
func NewGrpcGenerator(cfg GrpcConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrProviderUnavailable
	}
	defaults := DefaultGrpcConfig(cfg.Address)
	if cfg.Method == "" {
		cfg.Method = defaults.Method
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to provider at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("provider at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generative-text provider", "address", cfg.Address, "method", cfg.Method)

	return &GrpcGenerator{
		conn:    conn,
		addr:    cfg.Address,
		method:  cfg.Method,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// GenerateReply sends prompt and returns the provider's text.
func (g *GrpcGenerator) GenerateReply(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out := &wrapperspb.StringValue{}
	if err := g.conn.Invoke(ctx, g.method, wrapperspb.String(prompt), out); err != nil {
		g.logger.Warn("Provider call failed", "error", err, "method", g.method)
		return "", fmt.Errorf("generate reply: %w", err)
	}

	reply := strings.TrimSpace(out.GetValue())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Close closes the gRPC connection.
func (g *GrpcGenerator) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
