package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dinehub.org/internal/ids"
	"dinehub.org/internal/obs"
)

const (
	defaultAccessTTL    = time.Hour
	defaultRefreshTTL   = 30 * 24 * time.Hour
	defaultTouchTimeout = 2 * time.Second

	// RevokeReasonRotated marks refresh tokens consumed by Refresh.
	RevokeReasonRotated = "rotated"
)

// Rejection reasons. They reach logs and metrics only.
const (
	reasonMalformed   = "malformed"
	reasonSignature   = "signature"
	reasonClaims      = "claims"
	reasonNotFound    = "not_found"
	reasonMismatch    = "mismatch"
	reasonInactive    = "inactive"
	reasonRevoked     = "revoked"
	reasonBlacklisted = "blacklisted"
	reasonExpired     = "expired"
	reasonWrongKind   = "wrong_kind"
	reasonReplayed    = "replayed"
)

// PermissionSource produces the role and permission snapshot embedded into access tokens.
type PermissionSource interface {
	Snapshot(ctx context.Context, user User) (roles []string, permissions []string, err error)
}

// IssueOptions carries per-call token metadata.
type IssueOptions struct {
	DeviceID   string
	DeviceType string
	IPAddress  string
	UserAgent  string
	Scopes     []string
	// Zero TTLs fall back to the service defaults.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// IssuedToken is a signed token and the identifiers of its stored record.
type IssuedToken struct {
	Token     string
	TokenID   string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is the credential bundle returned to clients.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresIn int64     `json:"refresh_expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Validated is the outcome of a successful validation: verified claims and the stored record.
type Validated struct {
	Claims *Claims
	Token  Token
}

// RevokeOptions names the actor and cause of a revocation.
type RevokeOptions struct {
	By     string
	Reason string
}

// TokenService issues, validates, rotates and revokes session tokens.
type TokenService struct {
	signer *Signer
	tokens TokenRepository
	perms  PermissionSource
	users  UserDirectory
	cache  RevocationCache
	audit  AuditLogger
	log    zerolog.Logger
	now    func() time.Time

	issuer       string
	audience     string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	touchTimeout time.Duration

	touches sync.WaitGroup
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer sets the iss claim and requires it on validation.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the aud claim and requires it on validation.
func WithAudience(audience string) TokenOption {
	return func(s *TokenService) error {
		s.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl < 0 {
			return errors.New("auth: access ttl must be positive")
		}
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl < 0 {
			return errors.New("auth: refresh ttl must be positive")
		}
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) TokenOption {
	return func(s *TokenService) error {
		s.log = l
		return nil
	}
}

// WithRevocationCache installs a deny-list cache consulted before the store.
func WithRevocationCache(c RevocationCache) TokenOption {
	return func(s *TokenService) error {
		s.cache = c
		return nil
	}
}

// WithAudit records token state transitions.
func WithAudit(a AuditLogger) TokenOption {
	return func(s *TokenService) error {
		if a != nil {
			s.audit = a
		}
		return nil
	}
}

// NewTokenService constructs a TokenService. signer, tokens, perms and users are required.
func NewTokenService(signer *Signer, tokens TokenRepository, perms PermissionSource, users UserDirectory, opts ...TokenOption) (*TokenService, error) {
	if signer == nil || tokens == nil || perms == nil || users == nil {
		return nil, errors.New("auth: signer, token store, permission source and user directory are required")
	}
	s := &TokenService{
		signer:       signer,
		tokens:       tokens,
		perms:        perms,
		users:        users,
		audit:        nopAudit{},
		log:          obs.Logger().With().Str("component", "tokens").Logger(),
		now:          time.Now,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		touchTimeout: defaultTouchTimeout,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// HashToken returns the hex SHA-256 digest under which a signed token is stored.
func HashToken(signed string) string {
	sum := sha256.Sum256([]byte(signed))
	return hex.EncodeToString(sum[:])
}

// IssueAccessToken issues an access token carrying the user's current permission snapshot.
func (s *TokenService) IssueAccessToken(ctx context.Context, user User, opts IssueOptions) (IssuedToken, error) {
	if err := checkUser(user); err != nil {
		return IssuedToken{}, err
	}
	roles, perms, err := s.perms.Snapshot(ctx, user)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("resolve permissions: %w", err)
	}
	return s.issue(ctx, user, TokenKindAccess, roles, perms, opts)
}

// IssueRefreshToken issues a refresh token with minimal claims.
func (s *TokenService) IssueRefreshToken(ctx context.Context, user User, opts IssueOptions) (IssuedToken, error) {
	if err := checkUser(user); err != nil {
		return IssuedToken{}, err
	}
	return s.issue(ctx, user, TokenKindRefresh, nil, nil, opts)
}

// IssueTokenPair issues an access and a refresh token for the user.
func (s *TokenService) IssueTokenPair(ctx context.Context, user User, opts IssueOptions) (TokenPair, error) {
	access, err := s.IssueAccessToken(ctx, user, opts)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user, opts)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "Bearer",
		ExpiresIn:        int64(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
		RefreshExpiresIn: int64(refresh.ExpiresAt.Sub(refresh.IssuedAt).Seconds()),
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *TokenService) issue(ctx context.Context, user User, kind TokenKind, roles, perms []string, opts IssueOptions) (IssuedToken, error) {
	ttl := s.accessTTL
	if kind == TokenKindRefresh {
		ttl = s.refreshTTL
		if opts.RefreshTTL > 0 {
			ttl = opts.RefreshTTL
		}
	} else if opts.AccessTTL > 0 {
		ttl = opts.AccessTTL
	}
	// NumericDate has second precision; keep the record consistent with the claims.
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	scopes := normalizeScopes(opts.Scopes)
	deviceID := strings.TrimSpace(opts.DeviceID)

	claims := &Claims{
		TenantID:    user.TenantID,
		TokenType:   string(kind),
		Roles:       roles,
		Permissions: perms,
		Scopes:      scopes,
		DeviceID:    deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return IssuedToken{}, err
	}

	rec := &Token{
		ID:                  ids.New(),
		TenantID:            user.TenantID,
		UserID:              user.ID,
		TokenID:             claims.ID,
		Kind:                kind,
		TokenHash:           HashToken(signed),
		DeviceID:            deviceID,
		DeviceType:          strings.TrimSpace(opts.DeviceType),
		IPAddress:           strings.TrimSpace(opts.IPAddress),
		UserAgent:           strings.TrimSpace(opts.UserAgent),
		Scopes:              scopes,
		PermissionsSnapshot: perms,
		IsActive:            true,
		ExpiresAt:           exp,
		CreatedAt:           now,
	}
	if err := s.tokens.CreateToken(ctx, rec); err != nil {
		return IssuedToken{}, fmt.Errorf("store token: %w", err)
	}
	obs.TokenIssued(string(kind))
	_ = s.audit.LogEvent(ctx, "token.issued", map[string]any{
		"tenant_id": user.TenantID,
		"user_id":   user.ID,
		"jti":       claims.ID,
		"kind":      string(kind),
		"device_id": deviceID,
	})
	return IssuedToken{Token: signed, TokenID: claims.ID, Kind: kind, IssuedAt: now, ExpiresAt: exp}, nil
}

// Validate verifies signed and cross-checks its stored record. Every authentication
// failure is returned as ErrInvalidToken; other errors are infrastructure failures.
func (s *TokenService) Validate(ctx context.Context, signed string) (*Validated, error) {
	return s.validate(ctx, signed, "")
}

// ValidateAccess is Validate restricted to access tokens.
func (s *TokenService) ValidateAccess(ctx context.Context, signed string) (*Validated, error) {
	return s.validate(ctx, signed, TokenKindAccess)
}

func (s *TokenService) validate(ctx context.Context, signed string, want TokenKind) (*Validated, error) {
	v, reason, err := s.check(ctx, signed)
	if reason == "" && err == nil && want != "" && v.Token.Kind != want {
		reason = reasonWrongKind
	}
	if reason != "" {
		s.reject(ctx, reason, v, err)
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	obs.TokenValidated(true, "")
	s.touch(ctx, v.Token.TokenHash)
	return v, nil
}

// check returns a non-empty reason for authentication failures and a bare error for infrastructure failures.
// v carries whatever was learned before the failure.
func (s *TokenService) check(ctx context.Context, signed string) (*Validated, string, error) {
	v := &Validated{}
	signed = strings.TrimSpace(signed)
	if signed == "" {
		return v, reasonMalformed, nil
	}
	claims, reason, err := s.parse(signed)
	if reason != "" {
		return v, reason, err
	}
	v.Claims = claims

	hash := HashToken(signed)
	if s.cache != nil {
		denied, err := s.cache.IsRevoked(ctx, hash)
		if err != nil {
			s.log.Warn().Err(err).Msg("revocation cache lookup failed")
		} else if denied {
			return v, reasonRevoked, nil
		}
	}

	rec, err := s.tokens.FindTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, reasonNotFound, nil
		}
		return v, "", fmt.Errorf("load token: %w", err)
	}
	v.Token = rec
	if rec.TokenID != claims.ID || rec.TenantID != claims.TenantID || rec.UserID != claims.Subject || rec.Kind != claims.Kind() {
		return v, reasonMismatch, nil
	}
	if reason := rec.rejection(s.now()); reason != "" {
		return v, reason, nil
	}
	return v, "", nil
}

func (s *TokenService) parse(signed string) (*Claims, string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.signer.Algorithm()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(signed, claims, s.signer.keyFunc, opts...); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, reasonMalformed, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, reasonSignature, err
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, reasonExpired, err
		default:
			return nil, reasonClaims, err
		}
	}
	if err := claims.validate(); err != nil {
		return nil, reasonClaims, err
	}
	return claims, "", nil
}

func (s *TokenService) reject(ctx context.Context, reason string, v *Validated, cause error) {
	obs.TokenValidated(false, reason)
	evt := s.log.Warn().Str("reason", reason)
	fields := map[string]any{"reason": reason}
	if v != nil && v.Claims != nil {
		evt = evt.Str("jti", v.Claims.ID).Str("tenant_id", v.Claims.TenantID).Str("user_id", v.Claims.Subject)
		fields["jti"] = v.Claims.ID
		fields["tenant_id"] = v.Claims.TenantID
		fields["user_id"] = v.Claims.Subject
	}
	if cause != nil {
		evt = evt.Err(cause)
	}
	evt.Msg("token rejected")
	_ = s.audit.LogEvent(ctx, "token.rejected", fields)
}

// touch records last use without delaying the caller.
func (s *TokenService) touch(ctx context.Context, hash string) {
	at := s.now().UTC()
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.touchTimeout)
		defer cancel()
		if err := s.tokens.TouchToken(tctx, hash, at); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.Debug().Err(err).Msg("token touch failed")
		}
	}()
}

// Drain waits for pending last-use updates.
func (s *TokenService) Drain() {
	s.touches.Wait()
}

// Refresh consumes a refresh token and issues a new pair for the same user and device.
// Of any number of concurrent calls with the same token, at most one succeeds.
func (s *TokenService) Refresh(ctx context.Context, signed string) (TokenPair, error) {
	pair, err := s.refresh(ctx, signed)
	obs.TokenRefreshed(err == nil)
	return pair, err
}

func (s *TokenService) refresh(ctx context.Context, signed string) (TokenPair, error) {
	v, err := s.validate(ctx, signed, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	old := v.Token
	consumed, err := s.tokens.RevokeToken(ctx, old.TokenHash, Revocation{
		By:     old.UserID,
		Reason: RevokeReasonRotated,
		At:     s.now().UTC(),
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("rotate token: %w", err)
	}
	if !consumed {
		s.reject(ctx, reasonReplayed, v, nil)
		return TokenPair{}, ErrInvalidToken
	}
	s.deny(ctx, old.TokenHash, old.ExpiresAt)

	user, err := s.users.GetUser(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.reject(ctx, reasonNotFound, v, err)
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if user.TenantID != old.TenantID {
		s.reject(ctx, reasonMismatch, v, nil)
		return TokenPair{}, ErrInvalidToken
	}
	if !user.Active() {
		s.reject(ctx, reasonInactive, v, nil)
		return TokenPair{}, ErrInvalidToken
	}

	pair, err := s.IssueTokenPair(ctx, user, IssueOptions{
		DeviceID:   old.DeviceID,
		DeviceType: old.DeviceType,
		IPAddress:  old.IPAddress,
		UserAgent:  old.UserAgent,
		Scopes:     old.Scopes,
	})
	if err != nil {
		return TokenPair{}, err
	}
	_ = s.audit.LogEvent(ctx, "token.rotated", map[string]any{
		"tenant_id": old.TenantID,
		"user_id":   old.UserID,
		"jti":       old.TokenID,
		"device_id": old.DeviceID,
	})
	return pair, nil
}

// Lookup returns the stored record of signed without validating it.
func (s *TokenService) Lookup(ctx context.Context, signed string) (Token, error) {
	rec, err := s.tokens.FindTokenByHash(ctx, HashToken(strings.TrimSpace(signed)))
	if errors.Is(err, ErrNotFound) {
		return Token{}, ErrInvalidToken
	}
	return rec, err
}

// Revoke ends a single token. Revoking an already revoked token is a no-op.
func (s *TokenService) Revoke(ctx context.Context, signed string, opts RevokeOptions) error {
	rec, err := s.Lookup(ctx, signed)
	if err != nil {
		return err
	}
	ok, err := s.tokens.RevokeToken(ctx, rec.TokenHash, s.revocation(opts, "logout"))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !ok {
		return nil
	}
	s.deny(ctx, rec.TokenHash, rec.ExpiresAt)
	_ = s.audit.LogEvent(ctx, "token.revoked", map[string]any{
		"tenant_id": rec.TenantID,
		"user_id":   rec.UserID,
		"jti":       rec.TokenID,
		"by":        opts.By,
	})
	return nil
}

// RevokeAllForUser ends every live token of the user and returns how many were revoked.
func (s *TokenService) RevokeAllForUser(ctx context.Context, tenantID, userID string, opts RevokeOptions) (int, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: tenant_id and user_id are required", ErrInvalidInput)
	}
	return s.revokeMany(ctx, tenantID, TokenSelector{UserID: userID}, opts)
}

// RevokeAllForDevice ends every live token bound to the device.
func (s *TokenService) RevokeAllForDevice(ctx context.Context, tenantID, deviceID string, opts RevokeOptions) (int, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(deviceID) == "" {
		return 0, fmt.Errorf("%w: tenant_id and device_id are required", ErrInvalidInput)
	}
	return s.revokeMany(ctx, tenantID, TokenSelector{DeviceID: deviceID}, opts)
}

func (s *TokenService) revokeMany(ctx context.Context, tenantID string, sel TokenSelector, opts RevokeOptions) (int, error) {
	revoked, err := s.tokens.RevokeTokens(ctx, tenantID, sel, s.revocation(opts, "revoked"))
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	for _, r := range revoked {
		s.deny(ctx, r.TokenHash, r.ExpiresAt)
	}
	_ = s.audit.LogEvent(ctx, "token.revoked", map[string]any{
		"tenant_id": tenantID,
		"user_id":   sel.UserID,
		"device_id": sel.DeviceID,
		"count":     len(revoked),
		"by":        opts.By,
	})
	return len(revoked), nil
}

// Blacklist permanently bars a token. It overrides every other state.
func (s *TokenService) Blacklist(ctx context.Context, signed string, opts RevokeOptions) error {
	rec, err := s.Lookup(ctx, signed)
	if err != nil {
		return err
	}
	ok, err := s.tokens.BlacklistToken(ctx, rec.TokenHash, s.revocation(opts, "blacklisted"))
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	if !ok {
		return ErrInvalidToken
	}
	s.deny(ctx, rec.TokenHash, rec.ExpiresAt)
	s.log.Warn().Str("jti", rec.TokenID).Str("tenant_id", rec.TenantID).Str("by", opts.By).Msg("token blacklisted")
	_ = s.audit.LogEvent(ctx, "token.blacklisted", map[string]any{
		"tenant_id": rec.TenantID,
		"user_id":   rec.UserID,
		"jti":       rec.TokenID,
		"by":        opts.By,
		"reason":    opts.Reason,
	})
	return nil
}

// CleanExpired deletes records that expired before olderThan; zero means now.
func (s *TokenService) CleanExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	if olderThan.IsZero() {
		olderThan = s.now().UTC()
	}
	n, err := s.tokens.DeleteExpiredTokens(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	obs.MaintenanceDeleted("tokens_expired", n)
	return n, nil
}

// CleanRevoked deletes revoked or blacklisted records whose revocation is older than days.
func (s *TokenService) CleanRevoked(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("%w: days must not be negative", ErrInvalidInput)
	}
	n, err := s.tokens.DeleteRevokedTokens(ctx, s.now().UTC().AddDate(0, 0, -olderThanDays))
	if err != nil {
		return 0, err
	}
	obs.MaintenanceDeleted("tokens_revoked", n)
	return n, nil
}

func (s *TokenService) revocation(opts RevokeOptions, fallback string) Revocation {
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = fallback
	}
	return Revocation{By: strings.TrimSpace(opts.By), Reason: reason, At: s.now().UTC()}
}

func (s *TokenService) deny(ctx context.Context, hash string, expiresAt time.Time) {
	if s.cache == nil {
		return
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.MarkRevoked(ctx, hash, ttl); err != nil {
		s.log.Warn().Err(err).Msg("revocation cache write failed")
	}
}

func checkUser(user User) error {
	if strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.TenantID) == "" {
		return fmt.Errorf("%w: user id and tenant are required", ErrInvalidInput)
	}
	if !user.Active() {
		return fmt.Errorf("%w: user is not active", ErrInvalidInput)
	}
	return nil
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	for _, sc := range scopes {
		if sc = strings.TrimSpace(sc); sc != "" {
			seen[sc] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for sc := range seen {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}
