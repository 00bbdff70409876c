package filerepo

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

const sealedPrefix = "sb1:"

// sealer encrypts values at rest. A nil sealer stores plain text.
type sealer struct {
	key [32]byte
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != 32 {
		return nil, sessionerrors.Wrapf(sessionerrors.ErrInvalidConfig, "secretbox key must be 32 bytes, got %d", len(key))
	}
	s := &sealer{}
	copy(s.key[:], key)
	return s, nil
}

func (s *sealer) seal(value string) (string, error) {
	if s == nil {
		return value, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", sessionerrors.Wrapf(err, "generate nonce")
	}
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(box), nil
}

func (s *sealer) open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		if s != nil {
			return "", sessionerrors.Wrapf(sessionerrors.ErrInvalidPayload, "value is not sealed")
		}
		return stored, nil
	}
	if s == nil {
		return "", sessionerrors.Wrapf(sessionerrors.ErrInvalidPayload, "value is sealed but no key is configured")
	}
	box, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", sessionerrors.Wrapf(sessionerrors.ErrInvalidPayload, "malformed sealed value")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", sessionerrors.Wrapf(sessionerrors.ErrInvalidPayload, "sealed value failed authentication")
	}
	return string(plain), nil
}
