package bus

import (
	"log/slog"

	"github.com/loqalabs/vidscribe/internal/protocol"
)

// Publisher broadcasts transcript progress under a subject prefix. A nil
// Publisher, or one without a client, drops every message.
type Publisher struct {
	client *Client
	prefix string
	log    *slog.Logger
}

func NewPublisher(client *Client, prefix string, log *slog.Logger) *Publisher {
	return &Publisher{client: client, prefix: prefix, log: log}
}

// Segment publishes a transcript fragment. Final fragments go to the final subject.
func (p *Publisher) Segment(seg protocol.TranscriptSegment) {
	subject := protocol.SubjectTranscriptSegment
	if seg.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	p.publish(subject, seg)
}

// RunStatus publishes a run transition.
func (p *Publisher) RunStatus(status protocol.RunStatus) {
	p.publish(protocol.SubjectRunStatus, status)
}

// Publish failures are logged and never fail a run.
func (p *Publisher) publish(subject string, v any) {
	if p == nil || p.client == nil {
		return
	}
	full := protocol.Subject(p.prefix, subject)
	if err := p.client.PublishJSON(full, v); err != nil {
		p.log.Warn("bus publish failed", slog.String("subject", full), slog.String("error", err.Error()))
	}
}
