package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/faults"
	"outreach-automation-go/internal/lifecycle"
	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

// errDrainAborted marks events the drain timeout cut off before a worker
// could process them.
var errDrainAborted = errors.New("shutdown drain timed out before processing")

func (p *Pipeline) worker(id int) {
	defer p.workerWG.Done()

	for event := range p.queue {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))

		select {
		case <-p.workCtx.Done():
			// Drain timed out. The watermark already moved past this
			// message at admission, so it would never be re-fetched;
			// dead-letter it instead of dropping it.
			logrus.Warnf("Worker %d dead-lettering %s on shutdown", id, event.Message.MessageID)
			p.deadLetter(event.Message, event.Attempts, errDrainAborted)
			continue
		default:
		}

		p.process(event)
	}
}

// process runs one reply event through handleMessage with bounded retries
// and exponential backoff on transient failures. Permanent failures and
// exhausted retries land in the dead-letter sink.
func (p *Pipeline) process(event models.ReplyEvent) {
	msg := event.Message
	start := time.Now()

	var err error
retries:
	for event.Attempts = 1; event.Attempts <= p.cfg.MaxRetries; event.Attempts++ {
		err = p.handleMessage(msg)
		if err == nil {
			p.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
			return
		}
		if !faults.IsTransient(err) {
			break
		}
		if event.Attempts == p.cfg.MaxRetries {
			break
		}

		backoff := p.cfg.RetryBackoff * time.Duration(1<<(event.Attempts-1))
		logrus.Warnf("Retrying message %s in %v (attempt %d): %v", msg.MessageID, backoff, event.Attempts, err)
		select {
		case <-time.After(backoff):
		case <-p.workCtx.Done():
			// Shutdown mid-retry: the message must still land in a sink,
			// not vanish behind the saved watermark.
			break retries
		}
	}

	logrus.Errorf("Dead-lettering message %s after %d attempts: %v", msg.MessageID, event.Attempts, err)
	p.deadLetter(msg, event.Attempts, err)
}

// deadLetter records the event in the dead-letter sink and marks it
// processed: the sink now owns the message, replays go through the sink,
// never through re-admission. Sink writes run on their own short-lived
// context so a cancelled worker context cannot lose the record.
func (p *Pipeline) deadLetter(msg models.InboundMessage, attempts int, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.RecordDeadLetter(ctx, msg, attempts, cause.Error()); err != nil {
		logrus.Errorf("Failed to record dead letter for %s: %v", msg.MessageID, err)
		return
	}
	if err := p.store.MarkReplyProcessed(ctx, msg.MessageID); err != nil {
		logrus.Errorf("Failed to mark dead letter %s processed: %v", msg.MessageID, err)
	}
	p.metrics.RepliesDeadLetter.Inc()
}

// handleMessage processes one inbound reply end to end. Marking the
// message processed is the last step, so any failure before it leaves the
// message eligible for a clean retry; the lead transition itself is
// idempotent under replay.
func (p *Pipeline) handleMessage(msg models.InboundMessage) error {
	ctx := p.workCtx

	// Recheck the dedupe set: a crash between processing and the watermark
	// save can re-admit a message the previous run already finished.
	seen, err := p.store.SeenReply(ctx, msg.MessageID)
	if err != nil {
		return faults.Transient(fmt.Errorf("dedupe lookup failed: %w", err))
	}
	if seen {
		return nil
	}

	// A message the transport could not parse is a permanent failure; the
	// retry loop dead-letters it for manual inspection.
	if msg.ParseError != "" {
		return fmt.Errorf("malformed message: %s", msg.ParseError)
	}

	lead, err := p.store.GetLeadByEmail(ctx, msg.Sender)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.sinkOrphan(msg, "no lead matches sender")
		}
		return faults.Transient(fmt.Errorf("lead lookup failed: %w", err))
	}

	classification, err := p.provider.Classify(ctx, msg.Body)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	if classification == models.ClassNeutral || classification == models.ClassUnparseable {
		return p.sinkOrphan(msg, fmt.Sprintf("classification %s needs manual review", classification))
	}

	_, err = p.machine.Apply(ctx, lead.ID, lifecycle.Event{
		Kind:           lifecycle.EventReplyClassified,
		Classification: classification,
		At:             msg.ReceivedAt,
	})
	transitioned := false
	switch {
	case err == nil:
		transitioned = true
	case lifecycle.Benign(err):
		// The lead already reflects a reply outcome; record the message
		// without sending another acknowledgement.
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		// The lead cannot accept a reply in its current state, e.g. a
		// message from an address we never contacted from this campaign.
		return p.sinkOrphan(msg, fmt.Sprintf("lead %d in %s cannot accept reply", lead.ID, lead.Status))
	default:
		return faults.Transient(fmt.Errorf("lead transition failed: %w", err))
	}

	if transitioned {
		if err := p.respond(msg, lead, classification); err != nil {
			return err
		}
	}

	if err := p.store.MarkReplyProcessed(ctx, msg.MessageID); err != nil {
		return faults.Transient(fmt.Errorf("failed to mark %s processed: %w", msg.MessageID, err))
	}
	p.metrics.RepliesProcessed.WithLabelValues(string(classification)).Inc()
	logrus.Infof("Processed reply %s from %s: %s", msg.MessageID, msg.Sender, classification)
	return nil
}

// respond sends the automated acknowledgement on the lead's thread.
func (p *Pipeline) respond(msg models.InboundMessage, lead *models.Lead, classification models.Classification) error {
	body, err := p.provider.GenerateReply(p.workCtx, classification, msg.Body)
	if err != nil {
		return fmt.Errorf("reply generation failed: %w", err)
	}

	html, err := p.templates.RenderReply(body)
	if err != nil {
		return err
	}

	subject := msg.Subject
	if subject == "" {
		subject = "Re: " + lead.Subject
	}
	if err := p.sender.Send(p.workCtx, lead.Email, subject, html, lead.ThreadID); err != nil {
		return fmt.Errorf("auto-reply send failed: %w", err)
	}
	return nil
}

// sinkOrphan routes the message to the manual-review sink and marks it
// processed so it is never re-admitted.
func (p *Pipeline) sinkOrphan(msg models.InboundMessage, reason string) error {
	if err := p.store.RecordOrphan(p.workCtx, msg, reason); err != nil {
		return faults.Transient(fmt.Errorf("failed to record orphan: %w", err))
	}
	if err := p.store.MarkReplyProcessed(p.workCtx, msg.MessageID); err != nil {
		return faults.Transient(fmt.Errorf("failed to mark orphan %s processed: %w", msg.MessageID, err))
	}
	p.metrics.RepliesOrphaned.Inc()
	logrus.Infof("Routed message %s to manual review: %s", msg.MessageID, reason)
	return nil
}
