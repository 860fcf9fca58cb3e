package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

var day = 24 * time.Hour

func sampleNotice() Notice {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	missing := now.Add(-76 * day)
	e := state.Entity{Key: state.BranchKey("acme", "api", "dev"), Status: state.StatusRemoved, MissingSince: &missing}
	return NewNotice(EventWarn, e, missing, now.Add(14*day), now, "run-1")
}

func TestNotice_Message(t *testing.T) {
	n := sampleNotice()
	msg := n.Message()
	assert.Contains(t, msg, "branch acme/api@dev")
	assert.Contains(t, msg, "missing upstream since 2024-02-15")
	assert.Contains(t, msg, "2 months ago")
	assert.Contains(t, msg, "will be deleted 2 weeks from now (2024-05-15)")

	n.Event = EventDelete
	assert.Contains(t, n.Message(), "was deleted")

	n.Kind = state.KindOrganization
	assert.Contains(t, n.Message(), "orphaned")
}

func TestNotice_Key(t *testing.T) {
	assert.Equal(t, state.BranchKey("acme", "api", "dev"), sampleNotice().Key())
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject, f.data = subject, data
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "GHBACKUP", Sequence: 1}, nil
}

func TestNATSNotifier_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := &NATSNotifier{js: pub, subject: "backup.notices"}
	require.NoError(t, n.Notify(context.Background(), sampleNotice()))

	assert.Equal(t, "backup.notices", pub.subject)
	var got Notice
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, EventWarn, got.Event)
	assert.Equal(t, "dev", got.Branch)
	assert.Equal(t, "run-1", got.RunID)
	require.NoError(t, n.Close())
}

func TestNATSNotifier_PublishFailure(t *testing.T) {
	n := &NATSNotifier{js: &fakePublisher{err: stderrors.New("no responders")}, subject: "s"}
	err := n.Notify(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotify))
}

func TestNewNATSNotifier_RequiresURL(t *testing.T) {
	_, err := NewNATSNotifier(context.Background(), config.NATSConfig{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

type recordingNotifier struct {
	got []Notice
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notice) error {
	r.got = append(r.got, n)
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: stderrors.New("down")}
	m := Multi{LogNotifier{}, bad, ok}

	err := m.Notify(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.Len(t, ok.got, 1, "a failing notifier does not stop the others")
	assert.Len(t, bad.got, 1)
}
