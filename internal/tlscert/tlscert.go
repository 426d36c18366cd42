// Package tlscert bootstraps a self-signed server certificate for local use.
package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/phuslu/log"
)

const (
	commonName = "zabbixgateway"
	validFor   = 365 * 24 * time.Hour
	renewAfter = 30 * 24 * time.Hour
)

// Ensure keeps a cert/key pair that loads and is not about to expire, and
// otherwise writes a fresh self-signed ECDSA pair for localhost and the
// machine hostname.
func Ensure(certPath, keyPath string) error {
	reason := check(certPath, keyPath, time.Now())
	if reason == nil {
		return nil
	}
	if !errors.Is(reason, os.ErrNotExist) {
		log.Warn().Err(reason).Str("cert", certPath).Str("key", keyPath).Msg("regenerating TLS certificate")
	}

	now := time.Now()
	certPEM, keyPEM, err := generate(now.Add(-time.Hour), now.Add(validFor))
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	if err := writeFile(certPath, certPEM, 0644); err != nil {
		return err
	}
	return writeFile(keyPath, keyPEM, 0600)
}

// check returns nil when the pair at certPath/keyPath is usable at now.
func check(certPath, keyPath string, now time.Time) error {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return err
	}
	leaf := pair.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return err
		}
	}
	if now.Add(renewAfter).After(leaf.NotAfter) {
		return fmt.Errorf("certificate expires %s", leaf.NotAfter.Format(time.RFC3339))
	}
	return nil
}

func generate(notBefore, notAfter time.Time) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	dnsNames := []string{"localhost"}
	if host, err := os.Hostname(); err == nil && host != "" && host != "localhost" {
		dnsNames = append(dnsNames, host)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, mode)
}
