// Package crypto loads the keeper identity, verifies wallet login
// signatures and signs outbound webhooks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format written by cmd/keytool.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// IdentitySource says where the keeper's private key lives. RawPrivateKey
// wins over KeyFile.
type IdentitySource struct {
	RawPrivateKey string
	KeyFile       string
	Password      string
}

// Configured reports whether any key source is set.
func (s IdentitySource) Configured() bool {
	return s.RawPrivateKey != "" || s.KeyFile != ""
}

// Identity is a loaded secp256k1 key and its address.
type Identity struct {
	key     *ecdsa.PrivateKey
	address domain.Address
}

// NewIdentity parses a hex private key (0x optional).
func NewIdentity(privateKeyHex string) (*Identity, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Identity{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateIdentity creates a fresh random key.
func GenerateIdentity() (*Identity, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Identity{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func (id *Identity) Address() domain.Address { return id.address }

// PrivateKeyHex returns the key without 0x prefix.
func (id *Identity) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(id.key))
}

// LoadIdentity resolves the keeper key from src.
func LoadIdentity(src IdentitySource) (*Identity, error) {
	if src.RawPrivateKey != "" {
		return NewIdentity(src.RawPrivateKey)
	}
	if src.KeyFile != "" {
		data, err := os.ReadFile(src.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptIdentity(data, src.Password)
	}
	return nil, errors.New("crypto: no key source configured (set private_key or key_file)")
}

// EncryptIdentity seals the key with PBKDF2-HMAC-SHA256 and AES-256-GCM and
// returns the JSON key file.
func EncryptIdentity(id *Identity, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    id.address.Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(id.key), nil)),
	}, "", "  ")
}

// DecryptIdentity opens a key file written by EncryptIdentity. The stored
// address must match the decrypted key.
func DecryptIdentity(data []byte, password string) (*Identity, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key invalid: %w", err)
	}
	id := &Identity{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
	if kf.Address != "" && !strings.EqualFold(kf.Address, id.address.Hex()) {
		return nil, fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address, id.address.Hex())
	}
	return id, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
