package data

import (
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// ageEncryptor encrypts backups to an X25519 recipient
type ageEncryptor struct {
	recipient age.Recipient
	identity  age.Identity // nil when only encryption is possible
}

var _ repo.Encryptor = (*ageEncryptor)(nil)

// NewAgeEncryptor parses an age public key and/or secret key.
// With only an identity the recipient is derived from it.
func NewAgeEncryptor(recipient, identity string) (repo.Encryptor, error) {
	e := &ageEncryptor{}
	if identity != "" {
		id, err := age.ParseX25519Identity(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to parse age identity: %w", err)
		}
		e.identity = id
		e.recipient = id.Recipient()
	}
	if recipient != "" {
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("failed to parse age recipient: %w", err)
		}
		e.recipient = r
	}
	if e.recipient == nil {
		return nil, fmt.Errorf("age recipient or identity is required")
	}
	return e, nil
}

// Encrypt wraps w; Close must be called to flush the last chunk
func (e *ageEncryptor) Encrypt(w io.Writer) (io.WriteCloser, error) {
	enc, err := age.Encrypt(w, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to start encryption: %w", err)
	}
	return enc, nil
}

// Decrypt unwraps r with the configured identity
func (e *ageEncryptor) Decrypt(r io.Reader) (io.Reader, error) {
	if e.identity == nil {
		return nil, errors.NewInvalidRequest("backup is encrypted but no age identity is configured")
	}
	dec, err := age.Decrypt(r, e.identity)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to decrypt backup: %v", err))
	}
	return dec, nil
}
