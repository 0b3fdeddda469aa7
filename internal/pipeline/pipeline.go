// Package pipeline ingests inbound replies: a poller reads new messages
// from the inbox past a durable UID watermark, a dedupe filter drops
// already-processed message ids, and a bounded queue feeds a worker pool
// that classifies each reply and drives the lead transition. The queue
// blocks the poller when full; admission is the backpressure point.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/content"
	"outreach-automation-go/internal/lifecycle"
	"outreach-automation-go/internal/mailer"
	"outreach-automation-go/internal/metrics"
	"outreach-automation-go/internal/models"
)

// Inbox is the polling side of the mailbox.
type Inbox interface {
	PollSince(lastUID uint32) ([]models.InboundMessage, uint32, error)
}

// Store is the slice of the persistence layer the pipeline needs.
type Store interface {
	SeenReply(ctx context.Context, messageID string) (bool, error)
	MarkReplyProcessed(ctx context.Context, messageID string) error
	Watermark(ctx context.Context, mailbox string) (uint32, error)
	SaveWatermark(ctx context.Context, mailbox string, uid uint32) error
	GetLeadByEmail(ctx context.Context, email string) (*models.Lead, error)
	RecordDeadLetter(ctx context.Context, msg models.InboundMessage, attempts int, reason string) error
	RecordOrphan(ctx context.Context, msg models.InboundMessage, reason string) error
}

// Sender delivers the automated response.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, threadID string) error
}

// Pipeline owns the poll → dedupe → queue → worker flow.
type Pipeline struct {
	cfg       *config.PipelineConfig
	inbox     Inbox
	store     Store
	machine   *lifecycle.Machine
	provider  content.Provider
	sender    Sender
	templates *mailer.Templates
	metrics   *metrics.Metrics

	queue chan models.ReplyEvent

	pollCtx    context.Context
	pollCancel context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	pollWG     sync.WaitGroup
	workerWG   sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
}

// New creates a pipeline with a bounded queue of the configured capacity.
func New(cfg *config.PipelineConfig, inbox Inbox, st Store, machine *lifecycle.Machine,
	provider content.Provider, sender Sender, templates *mailer.Templates, m *metrics.Metrics) *Pipeline {

	pollCtx, pollCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())

	return &Pipeline{
		cfg:        cfg,
		inbox:      inbox,
		store:      st,
		machine:    machine,
		provider:   provider,
		sender:     sender,
		templates:  templates,
		metrics:    m,
		queue:      make(chan models.ReplyEvent, cfg.QueueCapacity),
		pollCtx:    pollCtx,
		pollCancel: pollCancel,
		workCtx:    workCtx,
		workCancel: workCancel,
	}
}

// Start launches the worker pool and the poll loop.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("pipeline is already running")
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}

	p.pollWG.Add(1)
	go p.pollLoop()

	p.isRunning = true
	logrus.Infof("Reply pipeline started: %d workers, queue capacity %d, polling every %v",
		p.cfg.Workers, p.cfg.QueueCapacity, p.cfg.PollInterval)
	return nil
}

// Stop halts polling, closes the queue, and drains in-flight work. Events
// still queued get up to DrainTimeout to finish; after that workers are
// cancelled and route whatever remains to the dead-letter sink, since the
// watermark has already moved past those messages.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return
	}

	p.pollCancel()
	p.pollWG.Wait()
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Reply pipeline drained and stopped")
	case <-time.After(p.cfg.DrainTimeout):
		logrus.Warn("Reply pipeline drain timeout, cancelling workers")
		p.workCancel()
		<-done
	}

	p.isRunning = false
}

// IsRunning reports whether the pipeline has been started.
func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// QueueDepth returns the number of events waiting in the queue.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) pollLoop() {
	defer p.pollWG.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// One immediate poll on startup, then the ticker cadence.
	p.poll()

	for {
		select {
		case <-p.pollCtx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll fetches messages past the watermark, admits the unseen ones to the
// queue, and only then advances the watermark. A full queue blocks
// admission, which holds the watermark back; the batch is re-fetched on
// the next tick after a crash, and the dedupe filter absorbs the overlap.
func (p *Pipeline) poll() {
	lastUID, err := p.store.Watermark(p.pollCtx, mailer.Mailbox)
	if err != nil {
		logrus.Errorf("Failed to load inbox watermark: %v", err)
		return
	}

	messages, maxUID, err := p.inbox.PollSince(lastUID)
	if err != nil {
		logrus.Errorf("Inbox poll failed: %v", err)
		return
	}
	if len(messages) == 0 {
		return
	}
	logrus.Infof("Polled %d messages after UID %d", len(messages), lastUID)

	for _, msg := range messages {
		seen, err := p.store.SeenReply(p.pollCtx, msg.MessageID)
		if err != nil {
			// Leave the watermark where it is; the batch is re-fetched.
			logrus.Errorf("Dedupe lookup for %s failed: %v", msg.MessageID, err)
			return
		}
		if seen {
			logrus.Debugf("Skipping already-processed message %s", msg.MessageID)
			continue
		}

		select {
		case p.queue <- models.ReplyEvent{Message: msg}:
			p.metrics.RepliesPolled.Inc()
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
		case <-p.pollCtx.Done():
			return
		}
	}

	if maxUID > lastUID {
		if err := p.store.SaveWatermark(p.pollCtx, mailer.Mailbox, maxUID); err != nil {
			logrus.Errorf("Failed to save inbox watermark %d: %v", maxUID, err)
		}
	}
}
