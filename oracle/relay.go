// Package oracle carries decryption requests from the engine to the enclave
// KMS and the signed answers back to the engine. Requests and callbacks are
// separate messages: Dispatch only enqueues, and a worker later delivers the
// result through the bound Callback.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
)

var (
	ErrQueueFull = errors.New("decryption queue full")
	ErrNotBound  = errors.New("relay has no callback bound")
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealedbid_relay_deliveries_total",
		Help: "Total number of decryption jobs handled by the relay",
	}, []string{"status"})

	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sealedbid_relay_queue_depth",
		Help: "Current number of queued decryption jobs",
	})
)

// KMS decrypts a job and signs the result. enclave.Oracle and
// enclaveapi.Client satisfy it.
type KMS interface {
	OracleDecrypt(ctx context.Context, job enclaveapi.DecryptionJob) (*enclaveapi.DecryptionResponse, error)
}

// Callback receives decryption results. auction.Engine satisfies it.
type Callback interface {
	OnDecryptionCallback(ctx context.Context, caller common.Address, id, requestID uint64, amount uint64, bidder common.Address, attestation []byte) error
}

type Config struct {
	// Identity is the caller the relay presents to the callback.
	Identity common.Address
	KMS      KMS
	Workers  int
	// QueueSize bounds jobs waiting for a worker. Dispatch fails fast with
	// ErrQueueFull beyond it.
	QueueSize int
	// MaxElapsed bounds retries of one job; zero retries until Run stops.
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	Log             logrus.FieldLogger
}

// Relay is the asynchronous decryption bridge.
type Relay struct {
	identity   common.Address
	kms        KMS
	workers    int
	queue      chan enclaveapi.DecryptionJob
	maxElapsed time.Duration
	initial    time.Duration
	log        logrus.FieldLogger

	mu       sync.RWMutex
	callback Callback
}

func New(cfg Config) (*Relay, error) {
	if cfg.KMS == nil {
		return nil, fmt.Errorf("relay requires a KMS")
	}
	if cfg.Identity == (common.Address{}) {
		return nil, fmt.Errorf("relay identity is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("invalid worker count: %d", cfg.Workers)
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("invalid queue size: %d", cfg.QueueSize)
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = backoff.DefaultInitialInterval
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Relay{
		identity:   cfg.Identity,
		kms:        cfg.KMS,
		workers:    cfg.Workers,
		queue:      make(chan enclaveapi.DecryptionJob, cfg.QueueSize),
		maxElapsed: cfg.MaxElapsed,
		initial:    cfg.InitialInterval,
		log:        cfg.Log.WithField("component", "relay"),
	}, nil
}

// Bind sets the callback results are delivered to.
func (r *Relay) Bind(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = cb
}

func (r *Relay) bound() Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callback
}

// Dispatch enqueues a job without blocking.
func (r *Relay) Dispatch(job enclaveapi.DecryptionJob) error {
	select {
	case r.queue <- job:
		queueDepthGauge.Set(float64(len(r.queue)))
		return nil
	default:
		deliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("request %d: %w", job.RequestID, ErrQueueFull)
	}
}

// Run processes jobs until ctx is cancelled. Jobs still queued at that point
// are dropped; the engine recovers them through a requeue.
func (r *Relay) Run(ctx context.Context) error {
	if r.bound() == nil {
		return ErrNotBound
	}

	r.log.WithField("workers", r.workers).Info("relay started")

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()

	r.log.WithField("dropped", len(r.queue)).Info("relay stopped")
	return nil
}

func (r *Relay) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			queueDepthGauge.Set(float64(len(r.queue)))
			if err := r.Deliver(ctx, job); err != nil && ctx.Err() == nil {
				r.log.WithError(err).WithFields(logrus.Fields{
					"auction_id": job.AuctionID,
					"request_id": job.RequestID,
				}).Error("decryption job failed")
			}
		}
	}
}

// Deliver decrypts one job and hands the result to the callback, retrying
// transient failures with exponential backoff. Rejections from the engine
// are final.
func (r *Relay) Deliver(ctx context.Context, job enclaveapi.DecryptionJob) error {
	cb := r.bound()
	if cb == nil {
		return ErrNotBound
	}

	log := r.log.WithFields(logrus.Fields{
		"auction_id": job.AuctionID,
		"request_id": job.RequestID,
	})

	var resp *enclaveapi.DecryptionResponse
	operation := func() error {
		if resp == nil {
			out, err := r.kms.OracleDecrypt(ctx, job)
			if err != nil {
				if permanentKMSError(err) {
					return backoff.Permanent(err)
				}
				return fmt.Errorf("oracle decrypt: %w", err)
			}
			resp = out
		}

		err := cb.OnDecryptionCallback(ctx, r.identity, job.AuctionID, job.RequestID, resp.Amount, resp.Bidder, resp.Attestation)
		if err != nil && permanentCallbackError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initial
	policy.MaxElapsedTime = r.maxElapsed

	notify := func(err error, wait time.Duration) {
		deliveriesTotal.WithLabelValues("retried").Inc()
		log.WithError(err).WithField("wait", wait).Warn("decryption delivery failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		deliveriesTotal.WithLabelValues("failed").Inc()
		return err
	}

	deliveriesTotal.WithLabelValues("delivered").Inc()
	log.Info("decryption result delivered")
	return nil
}

func permanentKMSError(err error) bool {
	return errors.Is(err, enclaveapi.ErrUnknownHandle) ||
		errors.Is(err, enclaveapi.ErrNotDecryptable) ||
		errors.Is(err, enclaveapi.ErrTypeMismatch)
}

func permanentCallbackError(err error) bool {
	return errors.Is(err, core.ErrInvalidState) ||
		errors.Is(err, core.ErrUntrustedOracleResponse) ||
		errors.Is(err, core.ErrUnauthorized) ||
		errors.Is(err, core.ErrNotFound)
}
