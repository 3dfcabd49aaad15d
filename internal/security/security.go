package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role names carried in auth tokens.
type Role string

const (
	RoleUser              Role = "user"
	RoleComplianceOfficer Role = "compliance_officer"
	RoleAdmin             Role = "admin"
)

// Permissions per role. Compliance officers and admins can see pipeline
// internals; plain users only their own transactions.
type Permissions struct {
	SubmitTransactions  bool
	ViewOwnStatus       bool
	ViewStats           bool
	CancelAny           bool
	RunComplianceChecks bool
}

var rolePermissions = map[Role]Permissions{
	RoleUser: {
		SubmitTransactions: true,
		ViewOwnStatus:      true,
	},
	RoleComplianceOfficer: {
		SubmitTransactions:  true,
		ViewOwnStatus:       true,
		ViewStats:           true,
		RunComplianceChecks: true,
	},
	RoleAdmin: {
		SubmitTransactions:  true,
		ViewOwnStatus:       true,
		ViewStats:           true,
		CancelAny:           true,
		RunComplianceChecks: true,
	},
}

// PermissionsFor returns the permission set for a role. Unknown roles get
// no permissions.
func PermissionsFor(role Role) Permissions {
	return rolePermissions[role]
}

// Cipher encrypts sensitive record metadata with AES-GCM before it leaves
// the process.
type Cipher struct {
	gcm cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := c.gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// HashSecret hashes an API secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CheckSecret compares a candidate secret against its stored hash.
func CheckSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

const challengeWindow = 30 * time.Second

// GenerateChallengeCode derives a 6-digit step-up verification code from a
// shared secret, bound to the user and the current time window.
func GenerateChallengeCode(secret []byte, userID int64, at time.Time) string {
	return challengeCode(secret, userID, at.Unix()/int64(challengeWindow.Seconds()))
}

// VerifyChallengeCode accepts the current window and one adjacent window on
// each side to tolerate clock skew.
func VerifyChallengeCode(secret []byte, userID int64, code string, at time.Time) bool {
	window := at.Unix() / int64(challengeWindow.Seconds())
	for _, w := range []int64{window - 1, window, window + 1} {
		if hmac.Equal([]byte(challengeCode(secret, userID, w)), []byte(code)) {
			return true
		}
	}
	return false
}

func challengeCode(secret []byte, userID int64, window int64) string {
	mac := hmac.New(sha256.New, secret)
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(userID))
	binary.BigEndian.PutUint64(buf[8:], uint64(window))
	mac.Write(buf)
	sum := mac.Sum(nil)
	code := binary.BigEndian.Uint32(sum[:4]) % 1000000
	return fmt.Sprintf("%06d", code)
}
