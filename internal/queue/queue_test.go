package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/models"
)

func TestEventSubject(t *testing.T) {
	require.Equal(t, "events.gate", EventSubject("gate"))
	require.Equal(t, "events.main_hall_cam", EventSubject("main hall.cam"))
	require.Equal(t, "events._", EventSubject(""))
	require.Equal(t, "events.a_b_", EventSubject("a*b>"))
}

// fakeMsg records how a delivery was settled. Methods it does not override
// panic through the nil embedded interface.
type fakeMsg struct {
	jetstream.Msg
	data []byte
	acks int
	naks int
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "events.gate" }
func (m *fakeMsg) Ack() error      { m.acks++; return nil }
func (m *fakeMsg) Nak() error      { m.naks++; return nil }

func TestSettleAcksHandledEvents(t *testing.T) {
	msg := &fakeMsg{data: []byte(`{"type":"attendance"}`)}
	var seen []byte
	settle(context.Background(), msg, func(_ context.Context, m jetstream.Msg) error {
		seen = m.Data()
		return nil
	})
	require.Equal(t, msg.data, seen)
	require.Equal(t, 1, msg.acks)
	require.Zero(t, msg.naks)
}

func TestSettleNaksFailedEvents(t *testing.T) {
	msg := &fakeMsg{}
	settle(context.Background(), msg, func(context.Context, jetstream.Msg) error {
		return errors.New("hub closed")
	})
	require.Zero(t, msg.acks)
	require.Equal(t, 1, msg.naks)
}

func TestDecodeTemplateChange(t *testing.T) {
	want := models.TemplateChange{IdentityID: uuid.New(), Action: models.TemplateDeleted, At: time.Now().UTC().Truncate(time.Second)}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := decodeTemplateChange(payload)
	require.NoError(t, err)
	require.Equal(t, want.IdentityID, got.IdentityID)
	require.Equal(t, want.Action, got.Action)
	require.True(t, want.At.Equal(got.At))

	for name, bad := range map[string]string{
		"malformed":      `{"identity_id":`,
		"missing id":     `{"action":"upserted"}`,
		"unknown action": `{"identity_id":"` + uuid.NewString() + `","action":"renamed"}`,
	} {
		_, err := decodeTemplateChange([]byte(bad))
		require.Error(t, err, name)
	}
}

func TestTemplateChangeHandlerDropsMalformed(t *testing.T) {
	var got []models.TemplateChange
	handle := templateChangeHandler(func(c models.TemplateChange) { got = append(got, c) })

	id := uuid.New()
	handle(&nats.Msg{Subject: TemplatesSubject, Data: []byte("not json")})
	handle(&nats.Msg{Subject: TemplatesSubject, Data: []byte(`{"identity_id":"` + id.String() + `","action":"upserted"}`)})

	require.Len(t, got, 1)
	require.Equal(t, id, got[0].IdentityID)
	require.Equal(t, models.TemplateUpserted, got[0].Action)
}
