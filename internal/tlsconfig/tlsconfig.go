// Package tlsconfig builds the *tls.Config the listener in cmd/arcrelayd
// uses, from either a plain key+certificate pair or a bundled PKCS#12
// keystore file (§6).
package tlsconfig

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// Config describes how to load the server's TLS material. Exactly one of
// the two shapes should be populated: (CertFile, KeyFile) or (KeystoreFile,
// KeystorePassword).
type Config struct {
	CertFile string
	KeyFile  string

	KeystoreFile     string
	KeystorePassword string
}

// Load builds a *tls.Config from cfg. A bundled keystore takes precedence
// when both shapes are set, since it's the more specific configuration.
func Load(cfg Config) (*tls.Config, error) {
	switch {
	case cfg.KeystoreFile != "":
		return loadKeystore(cfg.KeystoreFile, cfg.KeystorePassword)
	case cfg.CertFile != "" && cfg.KeyFile != "":
		return loadKeyPair(cfg.CertFile, cfg.KeyFile)
	default:
		return nil, fmt.Errorf("tlsconfig: no certificate material configured")
	}
}

func loadKeyPair(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// loadKeystore decodes a PKCS#12 bundle (a single private key plus its
// certificate chain, as produced by keytool/openssl) into a tls.Config.
func loadKeystore(path, password string) (*tls.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: read keystore %s: %w", path, err)
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: decode keystore %s: %w", path, err)
	}

	chain := make([][]byte, 0, len(caCerts)+1)
	chain = append(chain, cert.Raw)
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}

	tlsCert := tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &tls.Config{Certificates: []tls.Certificate{tlsCert}, MinVersion: tls.VersionTLS12}, nil
}
