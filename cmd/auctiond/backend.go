package main

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/api"
	"github.com/cloudx-io/sealedbid/auction"
	"github.com/cloudx-io/sealedbid/config"
	"github.com/cloudx-io/sealedbid/enclave"
	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/oracle"
	"github.com/cloudx-io/sealedbid/zkinput"
)

// defaultZKDir holds the Groth16 keys shared with bidders when
// enclave.zk_dir is unset.
const defaultZKDir = "zk"

// backend is the confidential side of the daemon: either an in-process
// enclave or a client of a remote one.
type backend struct {
	cop       auction.Coprocessor
	decrypter auction.PlainDecrypter
	kms       oracle.KMS
	keys      api.KeySource
	oracleKey *ecdsa.PublicKey
}

// embeddedKeys publishes the in-process enclave keys without attestation.
type embeddedKeys struct {
	keys     *enclave.KeyManager
	verifier *zkinput.Verifier
}

func (k embeddedKeys) Keys(context.Context) (*enclaveapi.KeyResponse, error) {
	return enclave.HandleKeyRequest(nil, k.keys, k.verifier)
}

func openBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*backend, error) {
	var be backend
	switch cfg.Enclave.Mode {
	case config.EnclaveEmbedded:
		keys, err := enclave.NewKeyManager()
		if err != nil {
			return nil, errors.Wrap(err, "generate enclave keys")
		}
		dir := cfg.Enclave.ZKDir
		if dir == "" {
			dir = defaultZKDir
		}
		_, verifier, err := zkinput.SetupOrLoad(dir)
		if err != nil {
			return nil, errors.Wrap(err, "load proof keys")
		}
		srv, err := enclave.NewServer(enclave.ServerConfig{
			Keys:       keys,
			Verifier:   verifier,
			MaxWorkers: 1,
			Log:        log,
		})
		if err != nil {
			return nil, err
		}
		be.cop = srv.Coprocessor()
		be.decrypter = srv.Coprocessor()
		be.kms = srv.Oracle()
		be.keys = embeddedKeys{keys: keys, verifier: verifier}
		log.WithField("zk_dir", dir).Warn("running embedded enclave without attestation")

	case config.EnclaveTCP, config.EnclaveVsock:
		dial := enclaveapi.DialTCP(cfg.Enclave.Addr)
		if cfg.Enclave.Mode == config.EnclaveVsock {
			dial = enclaveapi.DialVsock(cfg.Enclave.CID, cfg.Enclave.Port)
		}
		client := enclaveapi.NewClient(dial).WithTimeout(cfg.Enclave.Timeout)
		if err := waitForEnclave(ctx, client, cfg, log); err != nil {
			return nil, err
		}
		be.cop = client
		be.decrypter = client
		be.kms = client
		be.keys = client

	default:
		return nil, errors.Errorf("unknown enclave mode %q", cfg.Enclave.Mode)
	}

	resp, err := be.keys.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch enclave keys")
	}
	if be.oracleKey, err = enclaveapi.ParseECDSAPublicKeyPEM(resp.OraclePublicKey); err != nil {
		return nil, errors.Wrap(err, "parse oracle key")
	}
	return &be, nil
}

// waitForEnclave pings a remote enclave until it answers or the configured
// timeout elapses.
func waitForEnclave(ctx context.Context, client *enclaveapi.Client, cfg *config.Config, log logrus.FieldLogger) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.Enclave.Timeout

	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("enclave not reachable yet")
	})
	return errors.Wrapf(err, "reach %s enclave", cfg.Enclave.Mode)
}
