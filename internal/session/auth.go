package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Credentials is what a client presents in its authentication frame.
type Credentials struct {
	Token      string
	Version    string
	RemoteAddr string
}

// ReadCredentials decodes a client authentication frame: token then client
// version, both strings.
func ReadCredentials(f protocol.Frame) (Credentials, error) {
	r := f.Reader()
	c := Credentials{Token: r.String(), Version: r.String()}
	if err := r.Err(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Authenticator turns credentials into an identity. Any error rejects the
// connection.
type Authenticator interface {
	Authenticate(ctx context.Context, c Credentials) (world.Identity, error)
}

// LocalAuthenticator admits everyone as a numbered guest. It is used for
// local servers that never talk to the profile service.
type LocalAuthenticator struct {
	next atomic.Uint32
}

func (a *LocalAuthenticator) Authenticate(_ context.Context, _ Credentials) (world.Identity, error) {
	n := a.next.Add(1)
	return world.Identity{
		UserID:   n,
		Username: fmt.Sprintf("Player%d", n),
	}, nil
}

// VerifyFunc checks a token with the profile service.
type VerifyFunc func(ctx context.Context, token string) (world.Identity, error)

// ServiceAuthenticator validates tokens against the profile service.
type ServiceAuthenticator struct {
	Verify VerifyFunc
}

func (a ServiceAuthenticator) Authenticate(ctx context.Context, c Credentials) (world.Identity, error) {
	if c.Token == "" {
		return world.Identity{}, fmt.Errorf("%w: missing token", ErrAuthFailed)
	}
	id, err := a.Verify(ctx, c.Token)
	if err != nil {
		return world.Identity{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	id.Token = c.Token
	return id, nil
}
