package postgres

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/stockpulse/alert-engine/internal/domain"
)

const (
	tokenKeySize   = 32
	tokenNonceSize = 12
)

// TokenRepository reads the upstream bearer token the external
// token-refresh collaborator maintains, adapting the teacher's
// APIKeyRepository's at-rest AES-256-GCM encryption (repository_old.go)
// to a single row instead of a per-user table: the core only ever
// reads the current token, never refreshes it (§1 Non-goals). The
// AES-GCM sealing lives here rather than behind a generic encryptor
// type, since the upstream token is the only secret this repository
// ever handles.
type TokenRepository struct {
	db  *DB
	key []byte
}

func NewTokenRepository(db *DB, hexKey string) (*TokenRepository, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode upstream token key: %w", err)
	}
	if len(key) != tokenKeySize {
		return nil, fmt.Errorf("upstream token key must be %d bytes, got %d", tokenKeySize, len(key))
	}
	return &TokenRepository{db: db, key: key}, nil
}

// Token implements domain.TokenProvider.
func (r *TokenRepository) Token(ctx context.Context) (string, error) {
	const q = `SELECT token_enc FROM upstream_tokens ORDER BY updated_at DESC LIMIT 1`

	var tokenEnc string
	if err := r.db.QueryRowContext(ctx, q).Scan(&tokenEnc); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: no upstream token on file", domain.ErrUpstreamAuth)
		}
		return "", fmt.Errorf("load upstream token: %w", err)
	}

	token, err := r.openToken(tokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt upstream token: %w", err)
	}
	return token, nil
}

// SealToken encrypts a plaintext bearer token for storage in
// upstream_tokens.token_enc; exported for the seeder, which writes the
// row directly rather than through a repository write method.
func (r *TokenRepository) SealToken(plaintext string) (string, error) {
	return r.sealToken(plaintext)
}

func (r *TokenRepository) sealToken(plaintext string) (string, error) {
	aesgcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, tokenNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

func (r *TokenRepository) openToken(ciphertextHex string) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < tokenNonceSize {
		return "", errors.New("sealed token too short")
	}

	aesgcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce, ciphertext := ciphertext[:tokenNonceSize], ciphertext[tokenNonceSize:]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (r *TokenRepository) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var _ domain.TokenProvider = (*TokenRepository)(nil)
