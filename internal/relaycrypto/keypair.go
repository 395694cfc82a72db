// Package relaycrypto holds the Broker's RSA-OAEP keypair, generated once at
// startup and handed to every Handler for the handshake's password field.
package relaycrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const keyBits = 2048

// KeyPair is the Broker's long-lived RSA-OAEP key, generated once at startup
// and shared by every Handler.
type KeyPair struct {
	private *rsa.PrivateKey
}

// Generate creates a fresh 2048-bit RSA keypair.
func Generate() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: generate key: %w", err)
	}
	return &KeyPair{private: key}, nil
}

// JWK is the minimal RSA public key shape sent to clients as
// requestClientInfo's payload. There is no established JWK/JOSE dependency in
// scope here, so the handful of fields the handshake actually needs are
// built by hand rather than reached for through a library that would bring
// in far more than this uses.
type JWK struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PublicJWK exports the keypair's public half in the shape requestClientInfo
// carries over the wire.
func (k *KeyPair) PublicJWK() JWK {
	pub := k.private.PublicKey
	return JWK{
		Kty: "RSA",
		Alg: "RSA-OAEP-256",
		Use: "enc",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(bigEndianUint(pub.E)),
	}
}

func bigEndianUint(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v & 0xff)}, b...)
		v >>= 8
	}
	return b
}

// DecryptPassword attempts an RSA-OAEP decode of the base64-encoded
// ciphertext a client sends in clientInfo.password. This is the "wired but
// disabled" hook: a decode failure is reported so a Handler can still be
// destroyed on malformed input per the handshake's guarded-block contract,
// but the decoded plaintext is never compared against anything — there is no
// account store behind this relay, so there is nothing to verify it against.
func (k *KeyPair) DecryptPassword(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("relaycrypto: decode password: %w", err)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("relaycrypto: decrypt password: %w", err)
	}
	return string(plaintext), nil
}
