package transcribe

import (
	"context"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"
	"voxmeet/pkg/resilience"

	"go.uber.org/zap"
)

// Breaker fails fast while the wrapped backend keeps erroring. Rejected calls
// return a *resilience.OpenError; the queue holds those tasks until the circuit
// lets a probe through instead of spending their retries.
type Breaker struct {
	next Backend
	cb   *resilience.CircuitBreaker
	log  *zap.Logger
}

func NewBreaker(next Backend, cb *resilience.CircuitBreaker) *Breaker {
	return &Breaker{
		next: next,
		cb:   cb,
		log:  logger.Named("breaker"),
	}
}

func (b *Breaker) Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error) {
	var result *model.Result

	before := b.cb.GetState()
	err := b.cb.Execute(func() error {
		var err error
		result, err = b.next.Transcribe(ctx, audio, language)
		return err
	})

	if after := b.cb.GetState(); after != before {
		b.log.Warn("Circuit state changed",
			zap.Stringer("from", before),
			zap.Stringer("to", after))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
