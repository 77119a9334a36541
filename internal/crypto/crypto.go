// Package crypto implements the in-process age cipher stage. It encrypts with
// a static passphrase (scrypt recipient) so restores only need the same
// configured passphrase.
package crypto

import (
	"fmt"
	"io"

	"filippo.io/age"
)

// Suffix is appended to artifact names produced by the age stage.
const Suffix = ".age"

// Passphrase encrypts and decrypts streams with an age scrypt recipient.
type Passphrase struct {
	secret string
	// workFactor is the scrypt log2(N); zero keeps the age default.
	workFactor int
}

func NewPassphrase(secret string, workFactor int) (*Passphrase, error) {
	if secret == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	return &Passphrase{secret: secret, workFactor: workFactor}, nil
}

// NewWriter returns a writer that encrypts into w. The caller must Close it
// to flush the final chunk.
func (p *Passphrase) NewWriter(w io.Writer) (io.WriteCloser, error) {
	recipient, err := age.NewScryptRecipient(p.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrypt recipient: %w", err)
	}
	if p.workFactor > 0 {
		recipient.SetWorkFactor(p.workFactor)
	}

	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted writer: %w", err)
	}
	return enc, nil
}

// NewReader returns a reader that decrypts r.
func (p *Passphrase) NewReader(r io.Reader) (io.Reader, error) {
	identity, err := age.NewScryptIdentity(p.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrypt identity: %w", err)
	}
	if p.workFactor > 0 {
		identity.SetMaxWorkFactor(p.workFactor)
	}

	dec, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return dec, nil
}

// Encrypt copies src into dst encrypted.
func (p *Passphrase) Encrypt(dst io.Writer, src io.Reader) error {
	w, err := p.NewWriter(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("age encryption failed: %w", err)
	}

	return w.Close()
}

// Decrypt copies src into dst decrypted.
func (p *Passphrase) Decrypt(dst io.Writer, src io.Reader) error {
	r, err := p.NewReader(src)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("age decryption failed: %w", err)
	}
	return nil
}
