package tlsutil

import (
    "crypto/tls"
    "crypto/x509"
    "fmt"
    "os"
)

// ServerConfig builds the TLS config of the HTTP API. When caFile is set,
// clients must present a certificate signed by it (mTLS).
func ServerConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
    cert, err := tls.LoadX509KeyPair(certFile, keyFile)
    if err != nil { return nil, fmt.Errorf("load keypair: %w", err) }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
    if caFile != "" {
        pool, err := loadPool(caFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
    caPEM, err := os.ReadFile(caFile)
    if err != nil { return nil, fmt.Errorf("read ca: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(caPEM) { return nil, fmt.Errorf("append ca: invalid pem") }
    return pool, nil
}
