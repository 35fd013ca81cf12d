// Package pipeline wires the stages together: source adapters publish into
// the bus, the dispatcher batches and coalesces, enrichment resolves
// identity and drops stale events, the echo suppressor filters duplicated
// tool output, and the part store folds what remains into renderable
// document state before batches reach subscribers.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"loom/internal/bus"
	"loom/internal/correlate"
	"loom/internal/dispatch"
	"loom/internal/echo"
	"loom/internal/event"
	"loom/internal/observability"
	"loom/internal/part"
	"loom/internal/source"
	"loom/internal/textutil"
)

const debugPreviewLimit = 160

// Config tunes pipeline behavior.
type Config struct {
	// FlushInterval overrides the dispatcher cadence; zero keeps the default.
	FlushInterval time.Duration
	// DebugEvents logs every event crossing the bus at debug level.
	DebugEvents bool
}

// BatchConsumer receives the enriched, filtered events of one flush window.
// The slice is freshly allocated per flush; consumers may retain it.
type BatchConsumer func([]event.Enriched)

type consumerEntry struct {
	id int
	fn BatchConsumer
}

// Pipeline owns every stage and their wiring. Create with New, feed it
// adapters via StartRun, and read document state from Store.
type Pipeline struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	bus        *bus.Bus
	dispatcher *dispatch.Dispatcher
	correlator *correlate.Correlator
	echo       *echo.Suppressor
	store      *part.Store

	mu        sync.Mutex
	adapters  []source.Adapter
	consumers []consumerEntry
	nextID    int

	closeOnce sync.Once
}

// New assembles and starts a pipeline. Close releases it.
func New(logger *slog.Logger, metrics *observability.Metrics, config Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		logger:     logger,
		metrics:    metrics,
		bus:        bus.New(logger),
		correlator: correlate.New(logger),
		echo:       echo.New(),
		store:      part.NewStore(logger),
	}
	p.dispatcher = dispatch.New(logger,
		dispatch.WithFlushInterval(config.FlushInterval),
		dispatch.WithMetrics(metrics),
	)

	p.bus.OnInvalid(func(event.Event, error) {
		p.metrics.AddRejected(1)
	})
	p.bus.SubscribeAll(p.dispatcher.Enqueue)
	if config.DebugEvents {
		p.bus.SubscribeAll(func(ev event.Event) {
			p.logger.Debug("event",
				"kind", ev.Kind,
				"run_id", ev.RunID,
				"payload", textutil.Preview(ev.Payload, debugPreviewLimit))
		})
	}
	p.dispatcher.Subscribe(p.onBatch)
	p.dispatcher.Start()
	return p
}

// Bus returns the publication side handed to source adapters.
func (p *Pipeline) Bus() *bus.Bus { return p.bus }

// Store returns the document state fed by this pipeline.
func (p *Pipeline) Store() *part.Store { return p.store }

// ActiveRun returns the run id currently owning the pipeline, empty if none.
func (p *Pipeline) ActiveRun() string { return p.correlator.ActiveRun() }

// Subscribe registers a consumer of enriched batches. The returned function
// removes it and is safe to call twice.
func (p *Pipeline) Subscribe(fn BatchConsumer) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.consumers = append(p.consumers, consumerEntry{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, c := range p.consumers {
			if c.id == id {
				p.consumers = append(p.consumers[:i:i], p.consumers[i+1:]...)
				return
			}
		}
	}
}

// StartRun makes runID the active run and starts the given adapters. A prior
// run's adapters are disposed so superseded backends stop pulling, and its
// events become stale immediately. On a start failure the already started
// adapters are disposed and the error returned.
func (p *Pipeline) StartRun(runID, sessionID string, adapters ...source.Adapter) error {
	p.disposeAdapters()
	p.correlator.RegisterRun(runID, sessionID)
	p.echo.Reset()

	for i, a := range adapters {
		if err := a.Start(); err != nil {
			for _, started := range adapters[:i] {
				started.Dispose()
			}
			return err
		}
	}
	p.mu.Lock()
	p.adapters = append(p.adapters, adapters...)
	p.mu.Unlock()
	p.logger.Info("run started", "run_id", runID, "session_id", sessionID)
	return nil
}

// CancelRun disposes every adapter and retires the active run. In-flight
// events still queued become stale and are dropped at enrichment.
func (p *Pipeline) CancelRun() {
	p.disposeAdapters()
	runID := p.correlator.ActiveRun()
	p.correlator.Reset()
	p.echo.Reset()
	if runID != "" {
		p.logger.Info("run cancelled", "run_id", runID)
	}
}

// AttachQuestion attaches an interactive question overlay to a running tool
// part. Returns false when the tool is unknown or already terminal.
func (p *Pipeline) AttachQuestion(callID string, q part.Question) bool {
	return p.store.AttachQuestion(callID, q)
}

// Close stops the flush loop after a final flush and disposes any adapters
// still attached. Safe to call twice.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.disposeAdapters()
		p.dispatcher.Stop()
	})
}

func (p *Pipeline) disposeAdapters() {
	p.mu.Lock()
	adapters := p.adapters
	p.adapters = nil
	p.mu.Unlock()
	for _, a := range adapters {
		a.Dispose()
	}
}

// onBatch runs once per dispatcher flush, on the flush goroutine. Events
// pass through enrichment, staleness filtering, and echo suppression before
// mutating the store; whatever survives goes to the batch subscribers.
func (p *Pipeline) onBatch(events []event.Event) {
	out := make([]event.Enriched, 0, len(events))
	for _, ev := range events {
		en := p.correlator.Enrich(ev)
		if en.Stale {
			p.metrics.AddStale(1)
			continue
		}
		if dropped := p.filterEcho(&en); dropped {
			continue
		}
		if tc, ok := en.Payload.(event.ToolComplete); ok {
			if tc.EchoProne && tc.Output != "" && !en.SubagentTool {
				p.echo.ExpectEcho(tc.Output)
			}
		}
		p.store.Apply(en)
		out = append(out, en)
	}
	if len(out) == 0 {
		return
	}

	p.mu.Lock()
	consumers := make([]consumerEntry, len(p.consumers))
	copy(consumers, p.consumers)
	p.mu.Unlock()
	for _, c := range consumers {
		c.fn(out)
	}
}

// filterEcho rewrites or drops a text delta that duplicates expected tool
// output. Only main-chat assistant text is a candidate.
func (p *Pipeline) filterEcho(en *event.Enriched) (dropped bool) {
	td, ok := en.Payload.(event.TextDelta)
	if !ok || en.SuppressFromMainChat {
		return false
	}
	filtered := p.echo.FilterDelta(td.Text)
	if filtered == td.Text {
		return false
	}
	if filtered == "" {
		p.metrics.AddEchoSuppressed(1)
		return true
	}
	td.Text = filtered
	en.Event.Payload = td
	return false
}
