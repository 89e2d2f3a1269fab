package clients

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"strings"

	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// buildSASLMechanism creates the SASL mechanism for a cluster's
// credentials. Returns nil when no authentication is configured.
func buildSASLMechanism(cfg *domain.SASLConfig) (sasl.Mechanism, error) {
	if cfg == nil || cfg.Username == "" {
		return nil, nil
	}

	switch domain.SASLMechanism(strings.ToUpper(string(cfg.Mechanism))) {
	case domain.SASLPlain:
		return plain.Plain(func(ctx context.Context) (plain.Auth, error) {
			return plain.Auth{User: cfg.Username, Pass: cfg.Password}, nil
		}), nil

	case domain.SASLScramSHA256:
		return scram.Sha256(func(ctx context.Context) (scram.Auth, error) {
			return scram.Auth{User: cfg.Username, Pass: cfg.Password}, nil
		}), nil

	case domain.SASLScramSHA512:
		return scram.Sha512(func(ctx context.Context) (scram.Auth, error) {
			return scram.Auth{User: cfg.Username, Pass: cfg.Password}, nil
		}), nil

	default:
		return nil, errors.Newf(errors.CodeKafkaAuthn, "unsupported SASL mechanism %q", cfg.Mechanism)
	}
}

// buildTLSConfig creates the TLS configuration for a cluster. Returns
// nil when the cluster has no SSL settings.
func buildTLSConfig(cfg *domain.SSLConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.SkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.CACert != "" {
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM([]byte(cfg.CACert)) {
			return nil, errors.New(errors.CodeKafkaAuthn, "cannot parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}
	return tlsConfig, nil
}
