package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestIdentityFromHex(t *testing.T) {
	id, err := NewIdentity(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", id.Address().Hex())
	assert.Equal(t, testKey[2:], id.PrivateKeyHex())

	_, err = NewIdentity("0xnothex")
	assert.Error(t, err)
}

func TestPersonalSignRoundTrip(t *testing.T) {
	id, err := NewIdentity(testKey)
	require.NoError(t, err)
	msg := []byte("tradekeeper login\naddress: 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266\ntimestamp: 1740830400")

	sig, err := id.SignPersonal(msg)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	got, err := RecoverPersonal(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), got)
	require.NoError(t, VerifyPersonal(msg, sig, id.Address()))

	other, err := GenerateIdentity()
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyPersonal(msg, sig, other.Address()), ErrBadSignature)
	assert.ErrorIs(t, VerifyPersonal([]byte("tampered"), sig, id.Address()), ErrBadSignature)

	// v as 0/1 is accepted too.
	raw := []byte(sig)
	last := sig[len(sig)-2:]
	if last == "1b" {
		copy(raw[len(raw)-2:], "00")
	} else {
		copy(raw[len(raw)-2:], "01")
	}
	got, err = RecoverPersonal(msg, string(raw))
	require.NoError(t, err)
	assert.Equal(t, id.Address(), got)

	_, err = RecoverPersonal(msg, "0x1234")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestKeyFileRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	data, err := EncryptIdentity(id, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keeper.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadIdentity(IdentitySource{KeyFile: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, id.Address(), loaded.Address())

	_, err = LoadIdentity(IdentitySource{KeyFile: path, Password: "wrong"})
	assert.Error(t, err)

	_, err = LoadIdentity(IdentitySource{})
	assert.Error(t, err)
	assert.False(t, IdentitySource{}.Configured())
}

func TestWebhookSigner(t *testing.T) {
	s := NewWebhookSigner("secret")
	body := []byte(`{"event":"order_executed"}`)

	h := s.HeadersAt(body, 1740830400)
	assert.Equal(t, "1740830400", h[HeaderWebhookTimestamp])
	assert.Len(t, h[HeaderWebhookSignature], 64)
	assert.True(t, s.Verify("1740830400", body, h[HeaderWebhookSignature]))
	assert.False(t, s.Verify("1740830401", body, h[HeaderWebhookSignature]))
	assert.NotContains(t, s.String(), "secret=secret")
}
