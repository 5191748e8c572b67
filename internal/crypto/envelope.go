package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const envelopeVersion = "v1"

// Envelope is one AES-256-GCM sealed value, tagged with the key that sealed it.
type Envelope struct {
	KeyID      string
	Nonce      []byte
	Ciphertext []byte
}

// String renders the envelope as v1.<key id>.<nonce>.<ciphertext>.
func (e Envelope) String() string {
	return strings.Join([]string{
		envelopeVersion,
		e.KeyID,
		base64.RawURLEncoding.EncodeToString(e.Nonce),
		base64.RawURLEncoding.EncodeToString(e.Ciphertext),
	}, ".")
}

func ParseEnvelope(raw string) (Envelope, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 || parts[0] != envelopeVersion {
		return Envelope{}, fmt.Errorf("malformed envelope")
	}
	nonce, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Envelope{}, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return Envelope{}, fmt.Errorf("decode ciphertext: %w", err)
	}
	return Envelope{KeyID: parts[1], Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Manager seals with the current key and opens with any known key, so keys
// can be rotated without rewriting stored records up front.
type Manager struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewManager(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("key id %q must not contain '.'", id)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		cp[id] = append([]byte(nil), key...)
	}
	return &Manager{currentKeyID: currentKeyID, keys: cp}, nil
}

func (m *Manager) CurrentKeyID() string {
	return m.currentKeyID
}

// Seal encrypts plaintext bound to aad; Open must be given the same aad.
func (m *Manager) Seal(plaintext, aad string) (string, error) {
	aead, err := newAEAD(m.keys[m.currentKeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	env := Envelope{
		KeyID:      m.currentKeyID,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, []byte(plaintext), []byte(aad)),
	}
	return env.String(), nil
}

func (m *Manager) Open(sealed, aad string) (string, error) {
	env, err := ParseEnvelope(sealed)
	if err != nil {
		return "", err
	}
	key, ok := m.keys[env.KeyID]
	if !ok {
		return "", fmt.Errorf("unknown key id %q", env.KeyID)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("bad nonce size %d", len(env.Nonce))
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(aad))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
