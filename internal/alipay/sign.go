// Package alipay implements the RSA2 signature scheme and the notification
// and trade-query surfaces of the alipay open API.
package alipay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrBadSignature = errors.New("alipay: signature verification failed")

// canonicalString builds the string alipay signs: parameters sorted by key,
// joined as k=v with &, empty values skipped. The sign parameter itself is
// always excluded; sign_type is excluded only for notification verification,
// which the skipSignType flag controls.
func canonicalString(params map[string]string, skipSignType bool) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		if skipSignType && k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign produces the base64 RSA-SHA256 signature over the canonical string.
func Sign(params map[string]string, key *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(canonicalString(params, false)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a notification's signature against alipay's public key.
func Verify(params map[string]string, pub *rsa.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(params["sign"])
	if err != nil {
		return fmt.Errorf("%w: bad base64", ErrBadSignature)
	}
	digest := sha256.Sum256([]byte(canonicalString(params, true)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// ParsePrivateKey accepts both PKCS1 and PKCS8 PEM blocks.
func ParsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("alipay: private key is not PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("alipay: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("alipay: private key is not RSA")
	}
	return key, nil
}

// ParsePublicKey accepts a PKIX PEM block.
func ParsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("alipay: public key is not PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("alipay: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("alipay: public key is not RSA")
	}
	return pub, nil
}
