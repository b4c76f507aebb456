package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/provider/resilience"
)

// Job types carried in JobMessage.JobType.
const (
	JobCacheWarmup = "cache_warmup"
	JobHealthCheck = "health_check"
)

// healthCheckTimeout bounds the single-spot warmup of a health check.
const healthCheckTimeout = 10 * time.Second

// ErrUnknownJob is returned for a message with an unrecognised job type.
var ErrUnknownJob = errors.New("unknown job type")

// JobMessage is the payload of a worker message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Spots limits a warmup to the named spots.
	Spots []string `json:"spots,omitempty"`
}

// DecodeJob parses a message payload.
func DecodeJob(data []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("decode job: %w", err)
	}
	msg.JobType = strings.TrimSpace(msg.JobType)
	return msg, nil
}

// Dispatcher runs jobs independent of how they arrive.
type Dispatcher struct {
	warmup   *WarmupJob
	registry *resilience.Registry
	logger   zerolog.Logger
}

// NewDispatcher creates a new dispatcher. registry may be nil.
func NewDispatcher(warmup *WarmupJob, registry *resilience.Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{warmup: warmup, registry: registry, logger: logger}
}

// Dispatch runs msg. A returned error means the job should be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobCacheWarmup:
		return d.cacheWarmup(ctx, msg)
	case JobHealthCheck:
		return d.healthCheck(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) cacheWarmup(ctx context.Context, msg JobMessage) error {
	spots := d.warmup.Config().Select(msg.Spots)
	if len(spots) == 0 {
		d.logger.Warn().Strs("spots", msg.Spots).Msg("no configured spot matches the warmup request")
		return nil
	}

	result := d.warmup.RunSpots(ctx, spots)

	// Retry only when most spots failed; a single flaky vendor call is not worth redelivery.
	if result.Failed > result.Successful {
		return fmt.Errorf("%w: %d/%d", ErrTooManyFailures, result.Failed, result.TotalSpots)
	}
	return nil
}

func (d *Dispatcher) healthCheck(ctx context.Context) error {
	spots := d.warmup.Config().Spots
	if len(spots) > 0 {
		ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		result := d.warmup.RunSpots(ctx, spots[:1])
		if result.Failed > 0 {
			return fmt.Errorf("health check failed: %s", result.Errors[0].Error)
		}
	}

	if d.registry == nil {
		return nil
	}
	var open []string
	for _, p := range d.registry.All() {
		d.logger.Debug().
			Str("provider", p.Name).
			Str("circuit_state", p.CircuitState.String()).
			Uint32("consecutive_failures", p.Counts.ConsecutiveFailures).
			Msg("provider health")
		if p.Status() == resilience.StatusFail {
			open = append(open, p.Name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("health check failed: circuit open for %s", strings.Join(open, ", "))
	}
	return nil
}

// PubSubHandler feeds Pub/Sub messages to a Dispatcher.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Warmups are long; keep few in flight and extend their deadlines.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h.process(ctx, msg.ID, msg.PublishTime, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// process runs one message and reports whether it should be acked. Malformed and unknown
// messages are acked because redelivery cannot fix them.
func (h *PubSubHandler) process(ctx context.Context, id string, published time.Time, data []byte) bool {
	start := time.Now()
	logger := h.logger.With().
		Str("message_id", id).
		Time("publish_time", published).
		Logger()

	job, err := DecodeJob(data)
	if err != nil {
		logger.Error().Err(err).Msg("dropping malformed message")
		return true
	}

	logger = logger.With().Str("job_type", job.JobType).Logger()
	if err := h.dispatcher.Dispatch(ctx, job); err != nil {
		if errors.Is(err, ErrUnknownJob) {
			logger.Warn().Msg("unknown job type")
			return true
		}
		logger.Error().Err(err).Msg("job failed")
		return false
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("job completed successfully")
	return true
}
