// Package profile talks to the web API behind player accounts: token
// verification, profiles, asset ownership, badges, avatars and asset
// downloads. Every call has a bounded timeout and reports failures as errors.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/world"
)

const (
	DefaultTimeout = 12 * time.Second
	maxBody        = 8 << 20
)

var (
	ErrNotFound   = errors.New("profile: not found")
	ErrBadPayload = errors.New("profile: unexpected response body")
)

// StatusError is a non-2xx reply.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("profile: %s %s: status %d", e.Method, e.Path, e.Code)
}

// Config points a Client at the API.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	HostKey string        `yaml:"host_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// User is a public profile.
type User struct {
	ID         uint32 `json:"id"`
	Username   string `json:"username"`
	Membership uint8  `json:"membership"`
	Admin      bool   `json:"admin"`
}

// Avatar is the set of assets a player wears.
type Avatar struct {
	UserID uint32            `json:"user_id"`
	Colors map[string]string `json:"colors"`
	Items  map[string]uint64 `json:"items"`
}

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	hostKey string
	http    *http.Client
	logger  *zap.Logger

	assetMu sync.Mutex
	assets  map[uint64][]byte

	avatarMu sync.Mutex
	avatars  map[uint32]*Avatar
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("profile: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("profile: base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:    base,
		hostKey: cfg.HostKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("profile"),
		assets:  make(map[uint64][]byte),
		avatars: make(map[uint32]*Avatar),
	}, nil
}

// VerifyToken exchanges a client token for the identity it belongs to.
func (c *Client) VerifyToken(ctx context.Context, token string) (world.Identity, error) {
	var resp struct {
		User User `json:"user"`
	}
	body := map[string]string{"token": token, "host_key": c.hostKey}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/verify", body, verifySchema, &resp); err != nil {
		return world.Identity{}, err
	}
	return world.Identity{
		UserID:     resp.User.ID,
		Username:   resp.User.Username,
		Membership: resp.User.Membership,
		Admin:      resp.User.Admin,
		Token:      token,
	}, nil
}

func (c *Client) LookupUser(ctx context.Context, userID uint32) (User, error) {
	var u User
	path := "/v1/users/" + strconv.FormatUint(uint64(userID), 10)
	if err := c.do(ctx, http.MethodGet, path, nil, userSchema, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) OwnsAsset(ctx context.Context, userID uint32, assetID uint64) (bool, error) {
	var resp struct {
		Owns bool `json:"owns"`
	}
	path := fmt.Sprintf("/v1/users/%d/owns/%d", userID, assetID)
	if err := c.do(ctx, http.MethodGet, path, nil, ownsSchema, &resp); err != nil {
		return false, err
	}
	return resp.Owns, nil
}

// GrantBadge awards a badge to the player holding token.
func (c *Client) GrantBadge(ctx context.Context, token string, badgeID uint64) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	body := map[string]any{"host_key": c.hostKey, "token": token, "badge_id": badgeID}
	if err := c.do(ctx, http.MethodPost, "/v1/badges/grant", body, grantSchema, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("profile: badge %d not granted: %s", badgeID, resp.Error)
	}
	return nil
}

// Avatar fetches and caches a player's avatar.
func (c *Client) Avatar(ctx context.Context, userID uint32) (*Avatar, error) {
	c.avatarMu.Lock()
	a, ok := c.avatars[userID]
	c.avatarMu.Unlock()
	if ok {
		return a, nil
	}

	a = &Avatar{}
	path := fmt.Sprintf("/v1/users/%d/avatar", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, avatarSchema, a); err != nil {
		return nil, err
	}
	c.avatarMu.Lock()
	c.avatars[userID] = a
	c.avatarMu.Unlock()
	return a, nil
}

// LoadAvatar warms the avatar cache for a joining player.
func (c *Client) LoadAvatar(ctx context.Context, userID uint32) error {
	_, err := c.Avatar(ctx, userID)
	return err
}

// ResolveAsset downloads an asset once and serves it from memory afterwards.
func (c *Client) ResolveAsset(ctx context.Context, assetID uint64) ([]byte, error) {
	c.assetMu.Lock()
	data, ok := c.assets[assetID]
	c.assetMu.Unlock()
	if ok {
		return data, nil
	}

	path := "/v1/assets/" + strconv.FormatUint(assetID, 10)
	data, err := c.raw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	c.assetMu.Lock()
	c.assets[assetID] = data
	c.assetMu.Unlock()
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, schema *jsonschema.Schema, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	data, err := c.raw(ctx, method, path, body)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBadPayload, method, path, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBadPayload, method, path, err)
	}
	return json.Unmarshal(data, out)
}

func (c *Client) raw(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("profile: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}
