package recycling

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/cleanpoints/cleanpoints-api/internal/pkg/imaging"
)

// InputSize is the edge length photos are normalized to before classification.
const InputSize = 224

var ErrValidatorUnavailable = errors.New("recycling validator unavailable")

// errCallerGone marks oracle failures caused by the caller abandoning the
// request. The breaker ignores them.
var errCallerGone = errors.New("caller gone")

// Validator decides whether a submitted photo shows a valid recycling act.
type Validator interface {
	Validate(ctx context.Context, payload []byte) (bool, error)
}

// Oracle classifies a normalized photo.
type Oracle interface {
	Classify(ctx context.Context, img image.Image) (bool, error)
}

// BreakerConfig controls when oracle failures open the circuit.
type BreakerConfig struct {
	MaxConsecutiveFailures uint32
	OpenTimeout            time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// ImageValidator decodes and normalizes the photo, then asks the oracle
// through a circuit breaker.
type ImageValidator struct {
	images *imaging.Processor
	oracle Oracle
	cb     *gobreaker.CircuitBreaker[bool]
}

func NewImageValidator(oracle Oracle, cfg BreakerConfig) *ImageValidator {
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = DefaultBreakerConfig().MaxConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}

	const name = "recycling-oracle"
	breakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &ImageValidator{
		images: imaging.NewProcessor(imaging.Config{Size: InputSize}),
		oracle: oracle,
		cb:     cb,
	}
}

// Validate reports false for payloads that are not usable images. Oracle
// failures and an open circuit are returned as ErrValidatorUnavailable. A
// cancelled ctx returns ctx.Err() and does not count against the oracle.
func (v *ImageValidator) Validate(ctx context.Context, payload []byte) (bool, error) {
	if len(payload) == 0 {
		return false, nil
	}

	photo, err := v.images.Process(payload)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(payload)).Msg("recycling photo rejected before classification")
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	ok, err := v.cb.Execute(func() (bool, error) {
		ok, err := v.oracle.Classify(ctx, photo.Image)
		if err != nil && ctx.Err() != nil {
			return false, fmt.Errorf("%w: %w", errCallerGone, ctx.Err())
		}
		return ok, err
	})
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, errCallerGone):
		return false, ctx.Err()
	default:
		return false, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
	}
}

// RandomOracle accepts a photo with probability AcceptRate. It stands in
// until a trained classifier is deployed.
type RandomOracle struct {
	AcceptRate float64
	float      func() float64
}

func NewRandomOracle(acceptRate float64) *RandomOracle {
	return &RandomOracle{AcceptRate: acceptRate, float: rand.Float64}
}

func (o *RandomOracle) Classify(ctx context.Context, img image.Image) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if b := img.Bounds(); b.Dx() != InputSize || b.Dy() != InputSize {
		return false, fmt.Errorf("unexpected input size %dx%d", b.Dx(), b.Dy())
	}
	return o.float() < o.AcceptRate, nil
}
