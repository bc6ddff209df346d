// Package auth issues and verifies session tokens for wallet logins.
//
// A client asks for a challenge, signs it with personal_sign and posts the
// signature back. A valid signature yields an HS256 JWT whose subject is
// the wallet address.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/crypto"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// Roles carried in the token.
const (
	RoleUser   = "user"
	RoleKeeper = "keeper"
)

const issuer = "tradekeeper"

var (
	ErrTokenInvalid     = errors.New("auth: token is invalid")
	ErrTokenExpired     = errors.New("auth: token is expired")
	ErrChallengeExpired = errors.New("auth: challenge timestamp outside allowed skew")
	ErrBadLogin         = errors.New("auth: signature does not match address")
)

// KeeperChecker reports whether an address may push prices.
type KeeperChecker interface {
	IsKeeper(addr domain.Address) bool
}

// Claims is the JWT payload.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Address domain.Address
	Roles   []string
}

// HasRole reports whether p carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Options configure a Service.
type Options struct {
	Secret       string
	TokenTTL     time.Duration
	MaxClockSkew time.Duration
	Keepers      KeeperChecker
	Clock        clock.Clock
}

// Service issues challenges and tokens.
type Service struct {
	secret  []byte
	ttl     time.Duration
	skew    time.Duration
	keepers KeeperChecker
	clock   clock.Clock
}

// NewService builds a Service. TokenTTL defaults to 24h, MaxClockSkew to 5m.
func NewService(opts Options) (*Service, error) {
	if len(opts.Secret) < 16 {
		return nil, errors.New("auth: jwt secret must be at least 16 bytes")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Service{
		secret:  []byte(opts.Secret),
		ttl:     opts.TokenTTL,
		skew:    opts.MaxClockSkew,
		keepers: opts.Keepers,
		clock:   opts.Clock,
	}, nil
}

// ChallengeMessage is the exact text a wallet signs to log in.
func ChallengeMessage(addr domain.Address, unixTS int64) string {
	return "tradekeeper login\naddress: " + addr.Hex() + "\ntimestamp: " + strconv.FormatInt(unixTS, 10)
}

// Challenge returns the message for addr at the current time.
func (s *Service) Challenge(addr domain.Address) (string, int64) {
	ts := s.clock.Now().Unix()
	return ChallengeMessage(addr, ts), ts
}

// LoginRequest is what a client posts after signing the challenge.
type LoginRequest struct {
	Address   string `json:"address" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"required,gt=0"`
	Signature string `json:"signature" validate:"required"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Address   string    `json:"address"`
	Roles     []string  `json:"roles"`
}

// Login verifies the signed challenge and issues a token.
func (s *Service) Login(req LoginRequest) (LoginResponse, error) {
	if !common.IsHexAddress(req.Address) {
		return LoginResponse{}, fmt.Errorf("auth: address %q: %w", req.Address, ErrBadLogin)
	}
	addr := common.HexToAddress(req.Address)

	now := s.clock.Now()
	signedAt := time.Unix(req.Timestamp, 0)
	if d := now.Sub(signedAt); d > s.skew || d < -s.skew {
		return LoginResponse{}, ErrChallengeExpired
	}

	msg := ChallengeMessage(addr, req.Timestamp)
	if err := crypto.VerifyPersonal([]byte(msg), req.Signature, addr); err != nil {
		return LoginResponse{}, fmt.Errorf("%w: %v", ErrBadLogin, err)
	}

	roles := []string{RoleUser}
	if s.keepers != nil && s.keepers.IsKeeper(addr) {
		roles = append(roles, RoleKeeper)
	}
	token, exp, err := s.Issue(addr, roles)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{Token: token, ExpiresAt: exp, Address: addr.Hex(), Roles: roles}, nil
}

// Issue signs a token for addr with roles.
func (s *Service) Issue(addr domain.Address, roles []string) (string, time.Time, error) {
	now := s.clock.Now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and returns its principal.
func (s *Service) Verify(token string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, ErrTokenInvalid
	}
	if !common.IsHexAddress(claims.Subject) {
		return Principal{}, ErrTokenInvalid
	}
	return Principal{Address: common.HexToAddress(claims.Subject), Roles: claims.Roles}, nil
}
