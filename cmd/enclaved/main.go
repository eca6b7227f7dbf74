// Command enclaved runs the confidential coprocessor and decryption oracle.
// Inside a Nitro enclave it listens on vsock and attests its keys through the
// NSM; with ENCLAVE_LISTEN=tcp it serves plain TCP for development.
//
// Environment:
//
//	ENCLAVE_MAX_WORKERS  concurrent connections (required)
//	ENCLAVE_PORT         vsock or TCP port (required)
//	ENCLAVE_ZK_DIR       directory holding the Groth16 keys (default "zk")
//	ENCLAVE_LISTEN       "vsock" (default) or "tcp"
//	ENCLAVE_LOG_LEVEL    logrus level (default "info")
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/enclave"
	"github.com/cloudx-io/sealedbid/zkinput"
)

func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	logrus.WithField(key, intValue).Info("using value from environment")
	return intValue, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func listen(mode string, port int) (net.Listener, error) {
	switch mode {
	case "vsock":
		l, err := vsock.Listen(uint32(port), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return l, nil
	case "tcp":
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ENCLAVE_LISTEN mode %q", mode)
	}
}

func run(ctx context.Context, log *logrus.Logger) error {
	maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		return err
	}
	port, err := getRequiredEnvInt("ENCLAVE_PORT")
	if err != nil {
		return err
	}
	mode := getEnv("ENCLAVE_LISTEN", "vsock")

	keys, err := enclave.NewKeyManager()
	if err != nil {
		return fmt.Errorf("generate enclave keys: %w", err)
	}
	_, verifier, err := zkinput.SetupOrLoad(getEnv("ENCLAVE_ZK_DIR", "zk"))
	if err != nil {
		return fmt.Errorf("load proof keys: %w", err)
	}

	var attester enclave.EnclaveAttester
	if mode == "vsock" {
		if attester, err = enclave.NSMAttester(); err != nil {
			log.WithError(err).Warn("NSM unavailable, serving keys without attestation")
			attester = nil
		}
	}

	server, err := enclave.NewServer(enclave.ServerConfig{
		Keys:       keys,
		Verifier:   verifier,
		Attester:   attester,
		MaxWorkers: maxWorkers,
		Log:        log,
	})
	if err != nil {
		return err
	}

	listener, err := listen(mode, port)
	if err != nil {
		return err
	}
	return server.Serve(ctx, listener)
}

func main() {
	log := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(getEnv("ENCLAVE_LOG_LEVEL", "info")); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.WithError(err).Fatal("enclave server stopped")
	}
}
