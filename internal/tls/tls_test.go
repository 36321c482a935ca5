package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateCertificate returns a self-signed ECDSA pair for localhost.
func generateCertificate(t *testing.T, commonName string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-2 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
}

func writePair(t *testing.T, dir, commonName string, notAfter time.Time) Config {
	t.Helper()
	certPEM, keyPEM := generateCertificate(t, commonName, notAfter)
	cfg := Config{CertFile: filepath.Join(dir, "server.crt"), KeyFile: filepath.Join(dir, "server.key")}
	require.NoError(t, os.WriteFile(cfg.KeyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(cfg.CertFile, certPEM, 0o600))
	return cfg
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.False(t, Config{}.Enabled())
	assert.NoError(t, Config{CertFile: "a", KeyFile: "b"}.Validate())
	assert.Error(t, Config{CertFile: "a"}.Validate())
	assert.Error(t, Config{KeyFile: "b"}.Validate())
}

func TestCertReloaderServesHandshake(t *testing.T) {
	cfg := writePair(t, t.TempDir(), "v1", time.Now().Add(time.Hour))

	r, err := NewCertReloader(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	assert.Equal(t, "v1", r.Leaf().Subject.CommonName)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})}
	go func() { _ = srv.Serve(tls.NewListener(ln, r.ServerConfig())) }()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(r.Leaf())
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}}

	resp, err := client.Get("https://" + ln.Addr().String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", resp.TLS.PeerCertificates[0].Subject.CommonName)
}

func TestCertReloaderReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	cfg := writePair(t, dir, "v1", time.Now().Add(time.Hour))

	r, err := NewCertReloader(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	writePair(t, dir, "v2", time.Now().Add(time.Hour))

	require.Eventually(t, func() bool {
		return r.Leaf().Subject.CommonName == "v2"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCertReloaderKeepsPreviousOnBadReload(t *testing.T) {
	cfg := writePair(t, t.TempDir(), "v1", time.Now().Add(time.Hour))

	r, err := NewCertReloader(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, os.WriteFile(cfg.CertFile, []byte("not pem"), 0o600))
	time.Sleep(400 * time.Millisecond)

	cert, err := r.GetCertificate(nil)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, "v1", r.Leaf().Subject.CommonName)
}

func TestCertReloaderRejectsExpiredCertificate(t *testing.T) {
	cfg := writePair(t, t.TempDir(), "old", time.Now().Add(-time.Hour))

	_, err := NewCertReloader(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestCertReloaderMissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCertReloader(Config{CertFile: filepath.Join(dir, "a.crt"), KeyFile: filepath.Join(dir, "a.key")}, nil)
	require.Error(t, err)
}
