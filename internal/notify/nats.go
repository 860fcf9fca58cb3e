package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
)

const publishTimeout = 5 * time.Second

// publisher is the part of jetstream.JetStream the notifier uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSNotifier publishes notices as JSON to a JetStream subject.
type NATSNotifier struct {
	conn    *nats.Conn
	js      publisher
	subject string
}

// NewNATSNotifier connects to cfg.URL and makes sure the stream capturing the
// subject exists.
func NewNATSNotifier(ctx context.Context, cfg config.NATSConfig) (*NATSNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.ConfigurationError("notify.nats.url is required").Build()
	}
	cfg = cfg.WithDefaults()
	subject, stream := cfg.Subject, cfg.Stream

	conn, err := nats.Connect(cfg.URL, nats.Name("ghbackup"))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryNotify, "failed to connect to NATS").
			WithContext("url", cfg.URL).
			Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapError(err, errors.CategoryNotify, "failed to create JetStream context").Build()
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "ghbackup retention notices",
		Subjects:    []string{subject},
		MaxAge:      90 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapError(err, errors.CategoryNotify, "failed to create notice stream").
			WithContext("stream", stream).
			Build()
	}

	slog.Info("NATS notifier initialized", logfields.URL(cfg.URL), slog.String("subject", subject), slog.String("stream", stream))
	return &NATSNotifier{conn: conn, js: js, subject: subject}, nil
}

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, notice Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return errors.WrapError(err, errors.CategoryNotify, "failed to marshal notice").Build()
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := n.js.Publish(pctx, n.subject, data); err != nil {
		return errors.WrapError(err, errors.CategoryNotify, "failed to publish notice").
			WithContext("subject", n.subject).
			WithContext("key", notice.Key().String()).
			Build()
	}
	slog.Debug("Published retention notice", logfields.Action(string(notice.Event)), slog.String("key", notice.Key().String()))
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
