package corvidtls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureServerConfigGeneratesStore(t *testing.T) {
	dir := t.TempDir()
	cfg, err := EnsureServerConfig(dir, TLSv1_2)
	if err != nil {
		t.Fatalf("EnsureServerConfig: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("expected TLS 1.2 floor, got %x", cfg.MinVersion)
	}
	for _, name := range []string{"ca-key.pem", "ca.pem", "key.pem", "cert.pem"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
}

func TestEnsureServerConfigReusesFreshCert(t *testing.T) {
	dir := t.TempDir()
	if _, err := EnsureServerConfig(dir, TLSv1_2); err != nil {
		t.Fatalf("first EnsureServerConfig: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	if err != nil {
		t.Fatalf("read cert.pem: %v", err)
	}
	if _, err := EnsureServerConfig(dir, TLSv1_2); err != nil {
		t.Fatalf("second EnsureServerConfig: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	if err != nil {
		t.Fatalf("re-read cert.pem: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected cert to be reused while still fresh, got regenerated")
	}
}

func TestLoadServerConfigMissingCertPath(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadServerConfig(filepath.Join(dir, "missing-cert.pem"), filepath.Join(dir, "missing-key.pem"), TLSv1_2)
	if err == nil {
		t.Fatal("expected error for missing cert path")
	}
}

func TestMinVersionMapping(t *testing.T) {
	cases := map[MinVersion]uint16{
		TLSv1:   tls.VersionTLS10,
		TLSv1_1: tls.VersionTLS11,
		TLSv1_2: tls.VersionTLS12,
		TLSv1_3: tls.VersionTLS13,
	}
	for v, want := range cases {
		if got := v.goConst(); got != want {
			t.Errorf("%s: got %x, want %x", v, got, want)
		}
	}
}

func TestEncodePlaceholderHasFences(t *testing.T) {
	out := string(encodePlaceholder("subj", "issuer", "1"))
	if !contains(out, "-----BEGIN PLACEHOLDER CERTIFICATE-----") || !contains(out, "-----END PLACEHOLDER CERTIFICATE-----") {
		t.Fatalf("expected PEM-style fences, got: %s", out)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
