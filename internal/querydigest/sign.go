package querydigest

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Sign produces a digest token for clientID and query, signed with the
// PEM-encoded RSA or Ed25519 private key. This is the registration-tool
// side of Verifier.Matches.
func Sign(privateKeyPEM []byte, clientID, query string) (string, error) {
	key, method, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"qd": ComposeDigest(clientID, query),
	})
	return token.SignedString(key)
}

func parsePrivateKey(pemBytes []byte) (any, jwt.SigningMethod, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, nil, errors.New("querydigest: no PEM block in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, jwt.SigningMethodRS256, nil
		case ed25519.PrivateKey:
			return k, jwt.SigningMethodEdDSA, nil
		default:
			return nil, nil, fmt.Errorf("querydigest: unsupported private key type %T", key)
		}
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, jwt.SigningMethodRS256, nil
	}
	return nil, nil, errors.New("querydigest: unparseable private key")
}
