package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/pubsub"
)

type (
	SessionEvent   = pubsub.Event[proto.SessionInfo]
	AuditStepEvent = pubsub.Event[proto.AuditStep]
)

// slowConsumerTimeout is how long an event waits for a stalled subscriber
// before it is dropped.
const slowConsumerTimeout = 2 * time.Second

// Events merges session and audit events into one channel. Every call gets
// its own subscription, which ends when ctx is done or the app shuts down.
func (app *App) Events(ctx context.Context) <-chan any {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(app.eventsCtx, cancel)

	out := make(chan any, 32)
	var wg sync.WaitGroup
	setupSubscriber(ctx, &wg, "sessions", app.Sessions.Subscribe, out)
	setupSubscriber(ctx, &wg, "audit", app.Audit.Subscribe, out)

	app.serviceEventsWG.Go(func() {
		wg.Wait()
		stop()
		cancel()
		close(out)
	})
	return out
}

func setupSubscriber[T any](
	ctx context.Context,
	wg *sync.WaitGroup,
	name string,
	subscriber func(context.Context) <-chan pubsub.Event[T],
	outputCh chan<- any,
) {
	wg.Go(func() {
		subCh := subscriber(ctx)
		for {
			select {
			case event, ok := <-subCh:
				if !ok {
					slog.Debug("Subscription channel closed", "name", name)
					return
				}
				select {
				case outputCh <- event:
				case <-time.After(slowConsumerTimeout):
					slog.Warn("Event dropped due to slow consumer", "name", name)
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				slog.Debug("Subscription cancelled", "name", name)
				return
			}
		}
	})
}
