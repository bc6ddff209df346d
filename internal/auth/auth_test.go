package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/crypto"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

type keeperSet map[domain.Address]bool

func (k keeperSet) IsKeeper(a domain.Address) bool { return k[a] }

func newTestService(t *testing.T, keepers KeeperChecker) (*Service, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := NewService(Options{Secret: "0123456789abcdef0123", Keepers: keepers, Clock: clk})
	require.NoError(t, err)
	return s, clk
}

func signedLogin(t *testing.T, id *crypto.Identity, ts int64) LoginRequest {
	t.Helper()
	sig, err := id.SignPersonal([]byte(ChallengeMessage(id.Address(), ts)))
	require.NoError(t, err)
	return LoginRequest{Address: id.Address().Hex(), Timestamp: ts, Signature: sig}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	s, _ := newTestService(t, keeperSet{id.Address(): true})

	msg, ts := s.Challenge(id.Address())
	assert.Contains(t, msg, id.Address().Hex())

	resp, err := s.Login(signedLogin(t, id, ts))
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser, RoleKeeper}, resp.Roles)

	p, err := s.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), p.Address)
	assert.True(t, p.HasRole(RoleKeeper))
}

func TestLoginRejects(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	other, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	s, clk := newTestService(t, nil)
	now := clk.Now().Unix()

	_, err = s.Login(signedLogin(t, id, now-int64((10*time.Minute).Seconds())))
	assert.ErrorIs(t, err, ErrChallengeExpired)

	req := signedLogin(t, id, now)
	req.Address = other.Address().Hex()
	_, err = s.Login(req)
	assert.ErrorIs(t, err, ErrBadLogin)

	req = signedLogin(t, id, now)
	req.Address = "not-an-address"
	_, err = s.Login(req)
	assert.ErrorIs(t, err, ErrBadLogin)

	resp, err := s.Login(signedLogin(t, id, now))
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser}, resp.Roles)
}

func TestVerifyExpiryAndTamper(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	s, clk := newTestService(t, nil)

	token, _, err := s.Issue(id.Address(), []string{RoleUser})
	require.NoError(t, err)

	_, err = s.Verify(token + "x")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	otherSvc, err := NewService(Options{Secret: "another-secret-of-length", Clock: clk})
	require.NoError(t, err)
	_, err = otherSvc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	clk.Advance(25 * time.Hour)
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewService(Options{Secret: "short"})
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	p := Principal{Roles: []string{RoleUser}}
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	assert.False(t, got.HasRole(RoleKeeper))
}
