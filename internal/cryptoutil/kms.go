package cryptoutil

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/diary/internal/xerrors"
)

// sealedPrefix marks values produced by TokenCipher.Seal. Values without it
// are treated as plaintext written before a key was configured.
const sealedPrefix = "kms:v1:"

// kmsAPI is the subset of the KMS API used for token encryption.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// TokenCipher encrypts oauth tokens before they are persisted. Every call
// binds the ciphertext to an encryption context so a sealed token cannot be
// decrypted for another purpose with the same key.
//
// A TokenCipher without a key passes values through unchanged.
type TokenCipher struct {
	client kmsAPI
	keyID  string
	encCtx map[string]string
}

// NewTokenCipher returns a cipher using keyID. An empty keyID disables encryption.
func NewTokenCipher(client *kms.Client, keyID string) *TokenCipher {
	if keyID == "" || client == nil {
		return &TokenCipher{}
	}
	return newTokenCipher(client, keyID)
}

func newTokenCipher(client kmsAPI, keyID string) *TokenCipher {
	return &TokenCipher{
		client: client,
		keyID:  keyID,
		encCtx: map[string]string{"purpose": "oauth-token"},
	}
}

// Enabled reports whether values are actually encrypted
func (c *TokenCipher) Enabled() bool { return c != nil && c.client != nil }

// Seal encrypts plaintext. Empty input stays empty so "no token" survives a round trip.
func (c *TokenCipher) Seal(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" || !c.Enabled() {
		return plaintext, nil
	}
	out, err := c.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             &c.keyID,
		Plaintext:         []byte(plaintext),
		EncryptionContext: c.encCtx,
	})
	if err != nil {
		return "", xerrors.Wrap(err, "kms encrypt")
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Open reverses Seal. Unsealed values are returned as-is.
func (c *TokenCipher) Open(ctx context.Context, value string) (string, error) {
	b64, sealed := strings.CutPrefix(value, sealedPrefix)
	if !sealed {
		return value, nil
	}
	if !c.Enabled() {
		return "", xerrors.New("sealed token found but no kms key is configured")
	}
	blob, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", xerrors.Wrap(err, "decode sealed token")
	}
	out, err := c.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             &c.keyID,
		CiphertextBlob:    blob,
		EncryptionContext: c.encCtx,
	})
	if err != nil {
		return "", xerrors.Wrap(err, "kms decrypt")
	}
	return string(out.Plaintext), nil
}
