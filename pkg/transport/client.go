package transport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RetryConfig bounds how hard the client retries transient transport errors.
// A call makes at most MaxRetries+1 attempts.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
	}
}

// Client implements storage.Backend against a remote Server.
type Client struct {
	conn   *grpc.ClientConn
	retry  RetryConfig
	logger *zap.Logger
}

// Dial connects to a storage server without transport security.
func Dial(target string, retry RetryConfig, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client for %s: %w", target, err)
	}
	return NewClient(conn, retry, logger), nil
}

func NewClient(conn *grpc.ClientConn, retry RetryConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxRetries < 1 {
		retry.MaxRetries = 1
	}
	return &Client{conn: conn, retry: retry, logger: logger}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Write(ctx context.Context, owner types.Identity, path string, data []byte) error {
	return c.call(ctx, "Write", owner, path, wrapperspb.Bytes(data), &emptypb.Empty{})
}

func (c *Client) Read(ctx context.Context, owner types.Identity, path string) ([]byte, error) {
	out := &wrapperspb.BytesValue{}
	if err := c.call(ctx, "Read", owner, path, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *Client) Erase(ctx context.Context, owner types.Identity, path string) error {
	return c.call(ctx, "Erase", owner, path, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) Keys(ctx context.Context, owner types.Identity, prefix string) ([]string, error) {
	out := &structpb.ListValue{}
	if err := c.call(ctx, "Keys", owner, prefix, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		keys = append(keys, v.GetStringValue())
	}
	return keys, nil
}

// call invokes method with exponential backoff on retryable codes and maps
// the final status back onto storage errors.
func (c *Client) call(ctx context.Context, method string, owner types.Identity, path string, in, out interface{}) error {
	ctx = withObject(ctx, string(owner), path)

	attempts := max(c.retry.MaxRetries, 0) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.conn.Invoke(ctx, fullMethod(method), in, out)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return fromStatus(err)
		}
		lastErr = err

		c.logger.Debug("Storage call failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < attempts-1 {
			select {
			case <-time.After(c.calculateBackoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, attempts, fromStatus(lastErr))
}

// calculateBackoff is baseDelay * 2^attempt, capped, with +/- jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retry.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}

	jitter := delay * c.retry.JitterFactor * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = float64(c.retry.BaseDelay)
	}
	return time.Duration(delay)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.Internal,
		codes.Unknown:
		return true
	default:
		// NotFound, InvalidArgument, DeadlineExceeded, Canceled...
		return false
	}
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", storage.ErrInvalidPath, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	}
	return err
}
