// Package audit provides the append-only, hash-chained, optionally signed
// audit ledger for campaigns.
package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SigAlgorithm is the only signature algorithm the ledger produces
const SigAlgorithm = "ed25519"

// Signer signs entry hashes for critical and audit severity entries using a
// server-held Ed25519 key.
type Signer struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	signer string // signer identity recorded on entries
}

// NewSigner creates a signer from a hex-encoded Ed25519 private key seed.
// An empty seed generates an ephemeral key (tests, dev mode).
func NewSigner(seedHex, signerID string) (*Signer, error) {
	if signerID == "" {
		signerID = "delfos-core"
	}

	if seedHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		return &Signer{priv: priv, pub: pub, signer: signerID}, nil
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
		signer: signerID,
	}, nil
}

// Sign signs an entry hash, returning the hex signature
func (s *Signer) Sign(entryHash string) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(entryHash)))
}

// Verify checks a hex signature over an entry hash
func (s *Signer) Verify(entryHash, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, []byte(entryHash), sig)
}

// SignerID returns the identity recorded on signed entries
func (s *Signer) SignerID() string {
	return s.signer
}
