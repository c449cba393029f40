package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, nil
}

type failing struct{ err error }

func (f failing) Export(context.Context, Event) error { return f.err }

type recorder struct {
	got []Event
}

func (r *recorder) Export(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return nil
}

func textLogger(buf *bytes.Buffer) logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestRecord_FillsIDTimeAndCaller(t *testing.T) {
	r := &recorder{}
	ctx := WithRemoteAddr(context.Background(), "10.0.0.1")
	ctx = WithActor(ctx, "session:acc-1")

	Record(ctx, r, logging.Nop{}, Event{Action: ActionKeyIssued, AccountID: "acc-1"})

	require.Len(t, r.got, 1)
	assert.NotEqual(t, uuid.Nil, r.got[0].ID)
	assert.False(t, r.got[0].Time.IsZero())
	assert.Equal(t, "10.0.0.1", r.got[0].RemoteAddr)
	assert.Equal(t, "session:acc-1", r.got[0].Actor)
}

func TestRecord_SwallowsAndLogsFailure(t *testing.T) {
	var buf bytes.Buffer

	assert.NotPanics(t, func() {
		Record(context.Background(), failing{err: errors.New("sink down")}, textLogger(&buf),
			Event{Action: ActionKeyRevoked, AccountID: "acc-1"})
	})
	assert.Contains(t, buf.String(), "audit export failed")
	assert.Contains(t, buf.String(), "sink down")

	Record(context.Background(), nil, logging.Nop{}, Event{})
}

type stalled struct{}

func (stalled) Export(ctx context.Context, _ Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRecord_BoundsStalledBackend(t *testing.T) {
	old := exportTimeout
	exportTimeout = 20 * time.Millisecond
	t.Cleanup(func() { exportTimeout = old })

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		Record(context.Background(), stalled{}, textLogger(&buf), Event{Action: ActionKeyRevoked, AccountID: "acc-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record did not return while the backend stalled")
	}
	assert.Contains(t, buf.String(), "deadline exceeded")
}

func TestMulti_ExportsToAllAndJoinsErrors(t *testing.T) {
	r := &recorder{}
	err := Multi(r, failing{err: errors.New("a")}, NewNop()).Export(context.Background(), Event{Action: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Len(t, r.got, 1)
}

func TestSlogBackend_WritesAuditLine(t *testing.T) {
	var buf bytes.Buffer
	b := NewSlog(textLogger(&buf))

	require.NoError(t, b.Export(context.Background(), Event{
		ID: uuid.New(), Action: ActionKeyRevoked, AccountID: "acc-9", Actor: "session",
		Details: map[string]string{"key_prefix": "revoked"},
	}))

	out := buf.String()
	assert.Contains(t, out, "msg=audit_log")
	assert.Contains(t, out, "action=api_key.revoked")
	assert.Contains(t, out, "account_id=acc-9")
	assert.Contains(t, out, "details.key_prefix=revoked")
	assert.Contains(t, out, "module=audit")
}

func TestS3Backend_PutsJSONObject(t *testing.T) {
	p := &fakePutter{}
	b := NewS3(p, "audit-bucket")
	id := uuid.MustParse("6f1c2f0e-7e8a-4f7b-9b7e-2d7f1a0c9e11")
	ev := Event{ID: id, Time: time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC), Action: ActionKeyIssued, AccountID: "acc-1"}

	require.NoError(t, b.Export(context.Background(), ev))

	require.Len(t, p.inputs, 1)
	assert.Equal(t, "audit-bucket", aws.ToString(p.inputs[0].Bucket))
	assert.Equal(t, "audit/2024/03/07/api_key.issued/6f1c2f0e-7e8a-4f7b-9b7e-2d7f1a0c9e11.json", aws.ToString(p.inputs[0].Key))
	assert.Equal(t, "application/json", aws.ToString(p.inputs[0].ContentType))

	var back Event
	require.NoError(t, json.Unmarshal(p.bodies[0], &back))
	assert.Equal(t, "acc-1", back.AccountID)
	assert.Equal(t, id, back.ID)
}

func TestS3Backend_Error(t *testing.T) {
	b := NewS3(&fakePutter{err: errors.New("denied")}, "b")
	err := b.Export(context.Background(), Event{ID: uuid.New(), Action: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 put: denied")
}

func TestNewS3Client_WithEndpoint(t *testing.T) {
	c, err := NewS3Client(context.Background(), S3Options{
		Region: "us-east-1", Endpoint: "http://127.0.0.1:9000", User: "u", Password: "p",
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(c.Options().BaseEndpoint))
	assert.True(t, c.Options().UsePathStyle)
}
