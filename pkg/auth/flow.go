package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"forkwiki/pkg/session"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
)

// AuthURLScheme prefixes the URL a signer is shown.
const AuthURLScheme = "pubkyauth:///"

// Request is the content of an auth URL: the capabilities asked for and the
// one-time secret the signer must sign.
type Request struct {
	Caps   []string
	Secret []byte
}

// URL renders pubkyauth:///?caps=<path>:rw,...&secret=<base64url>.
func (r Request) URL() string {
	caps := make([]string, len(r.Caps))
	for i, c := range r.Caps {
		caps[i] = c + ":rw"
	}
	return fmt.Sprintf("%s?caps=%s&secret=%s", AuthURLScheme, strings.Join(caps, ","),
		base64.RawURLEncoding.EncodeToString(r.Secret))
}

// ParseAuthURL is the inverse of Request.URL.
func ParseAuthURL(raw string) (Request, error) {
	query, ok := strings.CutPrefix(raw, AuthURLScheme+"?")
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidAuthURL, raw)
	}
	var req Request
	for _, pair := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(pair, "=")
		switch key {
		case "caps":
			for _, c := range strings.Split(value, ",") {
				path, perm, ok := strings.Cut(c, ":")
				if !ok || perm != "rw" || !strings.HasPrefix(path, "/") {
					return Request{}, fmt.Errorf("%w: bad capability %q", ErrInvalidAuthURL, c)
				}
				req.Caps = append(req.Caps, path)
			}
		case "secret":
			secret, err := base64.RawURLEncoding.DecodeString(value)
			if err != nil {
				return Request{}, fmt.Errorf("%w: bad secret: %v", ErrInvalidAuthURL, err)
			}
			req.Secret = secret
		}
	}
	if len(req.Caps) == 0 || len(req.Secret) == 0 {
		return Request{}, fmt.Errorf("%w: missing caps or secret", ErrInvalidAuthURL)
	}
	return req, nil
}

// Token is a signer's answer to a Request.
type Token struct {
	Identity  types.Identity
	Caps      []string
	Signature []byte
}

func signingPayload(secret []byte, caps []string) []byte {
	return []byte(base64.RawURLEncoding.EncodeToString(secret) + "|" + strings.Join(caps, ","))
}

// SignRequest answers req with kp.
func SignRequest(kp *Keypair, req Request) Token {
	return Token{
		Identity:  kp.Identity(),
		Caps:      req.Caps,
		Signature: kp.Sign(signingPayload(req.Secret, req.Caps)),
	}
}

// Verify checks that the token was signed by its identity for req.
func (t Token) Verify(req Request) error {
	pub, err := PublicKeyFromIdentity(t.Identity)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, signingPayload(req.Secret, t.Caps), t.Signature) {
		return fmt.Errorf("%w: token for %s", ErrInvalidSignature, t.Identity)
	}
	return nil
}

// LocalFlow is a session.AuthFlow whose signer is a local keypair. With
// AutoApprove unset, Await blocks until Approve is called.
type LocalFlow struct {
	keypair     *Keypair
	backend     storage.Backend
	scopes      []string
	logger      *zap.Logger
	AutoApprove bool

	mu       sync.Mutex
	request  Request
	approved chan struct{}
	once     sync.Once
}

func NewLocalFlow(kp *Keypair, backend storage.Backend, logger *zap.Logger, scopes ...string) *LocalFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(scopes) == 0 {
		scopes = storage.DefaultScopes
	}
	return &LocalFlow{
		keypair:  kp,
		backend:  backend,
		scopes:   scopes,
		logger:   logger,
		approved: make(chan struct{}),
	}
}

func (f *LocalFlow) Start(context.Context) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	f.mu.Lock()
	f.request = Request{Caps: f.scopes, Secret: secret}
	f.mu.Unlock()

	url := f.request.URL()
	f.logger.Debug("Auth request created", zap.String("url", url))
	return url, nil
}

// Approve lets a pending Await complete.
func (f *LocalFlow) Approve() {
	f.once.Do(func() { close(f.approved) })
}

func (f *LocalFlow) Await(ctx context.Context) (session.Approval, error) {
	if !f.AutoApprove {
		select {
		case <-f.approved:
		case <-ctx.Done():
			return session.Approval{}, fmt.Errorf("%w: %w", ErrNotApproved, ctx.Err())
		}
	}

	f.mu.Lock()
	req := f.request
	f.mu.Unlock()
	if len(req.Secret) == 0 {
		return session.Approval{}, fmt.Errorf("%w: flow not started", ErrNotApproved)
	}

	// Round-trip through the URL as a remote signer would.
	parsed, err := ParseAuthURL(req.URL())
	if err != nil {
		return session.Approval{}, err
	}
	token := SignRequest(f.keypair, parsed)
	if err := token.Verify(req); err != nil {
		return session.Approval{}, err
	}

	f.logger.Info("Auth request approved",
		zap.String("identity", string(token.Identity)),
		zap.Strings("caps", token.Caps))
	return session.Approval{
		Identity: token.Identity,
		Storage:  storage.NewSession(f.backend, token.Identity, f.logger, token.Caps...),
	}, nil
}
