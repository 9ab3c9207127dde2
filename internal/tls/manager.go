package tls

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"golang.org/x/crypto/acme/autocert"

	"growth-service/internal/config"
	"growth-service/internal/util"
)

// Manager provides the server TLS configuration: Let's Encrypt via autocert
// in production, static or generated certificates elsewhere.
type Manager struct {
	cfg     *config.ServerConfig
	certMgr *autocert.Manager
	tlsCfg  *tls.Config
}

func NewManager(cfg *config.ServerConfig) (*Manager, error) {
	m := &Manager{cfg: cfg}

	switch {
	case cfg.AutoCert:
		if cfg.Domain == "" {
			return nil, fmt.Errorf("autocert requires a domain")
		}
		m.certMgr = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domain),
			Cache:      autocert.DirCache(cfg.AutoCertDir),
			Email:      cfg.Email,
		}
		m.tlsCfg = &tls.Config{
			GetCertificate: m.certMgr.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}
		util.Info("TLS via autocert", util.String("domain", cfg.Domain))

	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS keypair: %w", err)
		}
		m.tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		util.Info("TLS via static certificate", util.String("cert", cfg.CertFile))

	default:
		cert, err := generateDevCertificate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate dev certificate: %w", err)
		}
		m.tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		util.Warn("TLS via self-signed development certificate")
	}

	return m, nil
}

// TLSConfig returns the server-side TLS configuration.
func (m *Manager) TLSConfig() *tls.Config {
	return m.tlsCfg
}

// HTTPHandler wraps a fallback handler with the ACME HTTP-01 challenge
// responder when autocert is active; otherwise the fallback is returned
// unchanged.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.certMgr != nil {
		return m.certMgr.HTTPHandler(fallback)
	}
	return fallback
}
