package tlsutil

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "os"
    "path/filepath"
    "testing"
    "time"
)

// selfSigned writes a throwaway certificate and key under dir.
func selfSigned(t *testing.T, dir string) (crt, key string) {
    t.Helper()
    k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { t.Fatalf("key: %v", err) }
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(1),
        Subject:               pkix.Name{CommonName: "localhost"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &k.PublicKey, k)
    if err != nil { t.Fatalf("cert: %v", err) }
    kb, err := x509.MarshalECPrivateKey(k)
    if err != nil { t.Fatalf("marshal key: %v", err) }
    crt, key = filepath.Join(dir, "srv.crt"), filepath.Join(dir, "srv.key")
    if err := os.WriteFile(crt, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil { t.Fatal(err) }
    if err := os.WriteFile(key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kb}), 0o600); err != nil { t.Fatal(err) }
    return crt, key
}

func TestServerConfig(t *testing.T) {
    dir := t.TempDir()
    crt, key := selfSigned(t, dir)

    cfg, err := ServerConfig(crt, key, "")
    if err != nil { t.Fatalf("server config: %v", err) }
    if len(cfg.Certificates) != 1 || cfg.ClientAuth != tls.NoClientCert { t.Fatalf("unexpected config: %+v", cfg.ClientAuth) }

    cfg, err = ServerConfig(crt, key, crt)
    if err != nil { t.Fatalf("mtls config: %v", err) }
    if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil { t.Fatalf("mtls not enforced") }
}

func TestServerConfigErrors(t *testing.T) {
    dir := t.TempDir()
    crt, key := selfSigned(t, dir)
    if _, err := ServerConfig(filepath.Join(dir, "missing.crt"), key, ""); err == nil { t.Fatalf("missing cert accepted") }
    bad := filepath.Join(dir, "bad.pem")
    if err := os.WriteFile(bad, []byte("not pem"), 0o644); err != nil { t.Fatal(err) }
    if _, err := ServerConfig(crt, key, bad); err == nil { t.Fatalf("invalid ca accepted") }
}
