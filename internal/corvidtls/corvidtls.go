// Package corvidtls manages the dispatcher's transport security: a
// self-signed CA + server leaf certificate store, loaded or generated on
// startup per spec.md §6.
//
// Grounded on zamorofthat-elida/cmd/elida/main.go's setupTLS/
// generateSelfSignedCert (self-signed cert generation and tls.Config
// assembly), generalized from a single EC dev cert to a CA + leaf pair with
// on-disk persistence and expiry-triggered regeneration.
package corvidtls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// MinVersion is the closed set of TLS floor versions spec §4.J names.
type MinVersion string

const (
	TLSv1   MinVersion = "TLSv1"
	TLSv1_1 MinVersion = "TLSv1.1"
	TLSv1_2 MinVersion = "TLSv1.2"
	TLSv1_3 MinVersion = "TLSv1.3"
)

func (v MinVersion) goConst() uint16 {
	switch v {
	case TLSv1:
		return tls.VersionTLS10
	case TLSv1_1:
		return tls.VersionTLS11
	case TLSv1_3:
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

const (
	leafValidity = 365 * 24 * time.Hour
	renewWithin  = 30 * 24 * time.Hour
	rsaBits      = 2048
)

// Store is the certificate store layout from spec §6:
// <certsDir>/{ca-key.pem, ca.pem, key.pem, cert.pem}.
type Store struct {
	Dir string
}

func (s Store) caKeyPath() string { return filepath.Join(s.Dir, "ca-key.pem") }
func (s Store) caCertPath() string { return filepath.Join(s.Dir, "ca.pem") }
func (s Store) keyPath() string   { return filepath.Join(s.Dir, "key.pem") }
func (s Store) certPath() string  { return filepath.Join(s.Dir, "cert.pem") }

// EnsureServerConfig loads an existing cert/key pair from dir, regenerating
// it (CA + leaf) if absent or within renewWithin of expiry, and returns a
// *tls.Config enforcing minVersion.
func EnsureServerConfig(dir string, minVersion MinVersion) (*tls.Config, error) {
	store := Store{Dir: dir}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.CertificateInvalid, "corvidtls: cannot create cert store dir", err)
	}

	needsGen := true
	if leaf, err := tls.LoadX509KeyPair(store.certPath(), store.keyPath()); err == nil {
		if parsed, perr := x509.ParseCertificate(leaf.Certificate[0]); perr == nil {
			if time.Until(parsed.NotAfter) > renewWithin {
				needsGen = false
			}
		}
	}

	if needsGen {
		if err := generate(store); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(store.certPath(), store.keyPath())
	if err != nil {
		return nil, errs.Wrap(errs.CertificateInvalid, "corvidtls: loading generated cert", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion.goConst(),
	}, nil
}

// LoadServerConfig loads a pre-provisioned cert/key pair (external PKI,
// not auto-generated); both paths must exist.
func LoadServerConfig(certPath, keyPath string, minVersion MinVersion) (*tls.Config, error) {
	if _, err := os.Stat(certPath); err != nil {
		return nil, errs.Wrap(errs.CertificateInvalid, "corvidtls: cert_path does not exist", err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return nil, errs.Wrap(errs.CertificateInvalid, "corvidtls: key_path does not exist", err)
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errs.Wrap(errs.CertificateInvalid, "corvidtls: loading configured cert", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion.goConst(),
	}, nil
}

// generate writes a fresh self-signed CA and a leaf signed by it into the
// store, falling back to a placeholder cert if RSA key generation fails
// (the spec's "no OpenSSL available" case — the Go stdlib path normally
// never hits this, since it never shells out).
func generate(store Store) error {
	caKey, caCert, caDER, err := generateCA()
	if err != nil {
		return writePlaceholder(store)
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return writePlaceholder(store)
	}
	leafTemplate := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"corvid-core"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		BasicConstraintsValid: true,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, &leafTemplate, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		return writePlaceholder(store)
	}

	if err := writePEM(store.caKeyPath(), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(caKey), 0o600); err != nil {
		return err
	}
	if err := writePEM(store.caCertPath(), "CERTIFICATE", caDER, 0o644); err != nil {
		return err
	}
	if err := writePEM(store.keyPath(), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(leafKey), 0o600); err != nil {
		return err
	}
	return writePEM(store.certPath(), "CERTIFICATE", leafDER, 0o644)
}

func generateCA() (*rsa.PrivateKey, *x509.Certificate, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"corvid-core"},
			CommonName:   "corvid-core local CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(10 * leafValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, err
	}
	return key, cert, der, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	buf := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, buf, mode); err != nil {
		return errs.Wrap(errs.CertificateInvalid, fmt.Sprintf("corvidtls: writing %s", path), err)
	}
	return nil
}
