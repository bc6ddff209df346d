package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad signature")

// SignPersonal signs msg with the EIP-191 personal_sign prefix and returns
// the 0x-prefixed 65-byte signature with v in {27,28}.
func (id *Identity) SignPersonal(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), id.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverPersonal returns the address that produced sigHex over msg. Both
// v encodings (0/1 and 27/28) are accepted.
func RecoverPersonal(msg []byte, sigHex string) (domain.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: not hex", ErrBadSignature)
	}
	if len(sig) != 65 {
		return domain.Address{}, fmt.Errorf("%w: want 65 bytes, got %d", ErrBadSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return domain.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonal checks that sigHex over msg was made by addr.
func VerifyPersonal(msg []byte, sigHex string, addr domain.Address) error {
	got, err := RecoverPersonal(msg, sigHex)
	if err != nil {
		return err
	}
	if got != addr {
		return fmt.Errorf("%w: signed by %s, not %s", ErrBadSignature, got.Hex(), addr.Hex())
	}
	return nil
}
