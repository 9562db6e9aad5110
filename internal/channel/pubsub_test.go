// internal/channel/pubsub_test.go
package channel_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xkilldash9x/computer-worker/api/schemas"
	"github.com/xkilldash9x/computer-worker/internal/channel"
	"github.com/xkilldash9x/computer-worker/internal/config"
)

const (
	testProject = "test-project"
	testSession = "s1"
)

type pubsubFixture struct {
	srv   *pstest.Server
	admin *pubsub.Client
	cfg   config.PubSubConfig
}

// dial opens a connection to the fake server. Each client gets its own because
// closing a client may close the connection it was given.
func (f *pubsubFixture) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(f.srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newPubSubFixture(t *testing.T) *pubsubFixture {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })
	f := &pubsubFixture{srv: srv}

	ctx := context.Background()
	admin, err := pubsub.NewClient(ctx, testProject, option.WithGRPCConn(f.dial(t)))
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close() })
	f.admin = admin

	cfg := config.NewDefaultConfig().Transport.PubSub
	cfg.ProjectID = testProject
	cfg.PublishTimeout = 5 * time.Second

	commandTopic, _, resultTopic := cfg.Names(testSession)
	_, err = admin.CreateTopic(ctx, commandTopic)
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, resultTopic)
	require.NoError(t, err)

	f.cfg = cfg
	return f
}

func (f *pubsubFixture) newChannel(t *testing.T) *channel.PubSubChannel {
	t.Helper()
	ch, err := channel.NewPubSubChannel(context.Background(), f.cfg, testSession, zaptest.NewLogger(t), option.WithGRPCConn(f.dial(t)))
	require.NoError(t, err)
	return ch
}

func (f *pubsubFixture) publishCommand(t *testing.T, body string) string {
	t.Helper()
	commandTopic, _, _ := f.cfg.Names(testSession)
	return f.srv.Publish("projects/"+testProject+"/topics/"+commandTopic, []byte(body), nil)
}

// results returns every message that looks like an outbound result.
func (f *pubsubFixture) results() []schemas.Result {
	var out []schemas.Result
	for _, m := range f.srv.Messages() {
		data := string(m.Data)
		if !strings.Contains(data, `"error"`) && !strings.Contains(data, `"session_id"`) {
			continue
		}
		var r schemas.Result
		if err := json.Unmarshal(m.Data, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func (f *pubsubFixture) message(id string) *pstest.Message {
	for _, m := range f.srv.Messages() {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func TestPubSubChannel_DeliversAndPublishes(t *testing.T) {
	f := newPubSubFixture(t)
	ch := f.newChannel(t)

	var mu sync.Mutex
	var payloads []string
	require.NoError(t, ch.Subscribe(context.Background(), func(ctx context.Context, msg channel.Message) {
		mu.Lock()
		payloads = append(payloads, string(msg.Payload()))
		mu.Unlock()
		if msg.ID() == "cmd-2" {
			assert.NoError(t, msg.PublishError(ctx, "boom"))
			return
		}
		assert.NoError(t, msg.PublishScreenshot(ctx, "iVBOR", testSession, "https://example.com/"))
		assert.ErrorIs(t, msg.PublishError(ctx, "again"), channel.ErrAlreadyPublished)
	}))
	defer ch.Disconnect(context.Background())

	first := f.publishCommand(t, `{"id":"cmd-1","command":{"name":"screenshot"}}`)
	second := f.publishCommand(t, `{"id":"cmd-2","command":{"name":"go_back"}}`)

	require.Eventually(t, func() bool { return len(f.results()) == 2 }, 10*time.Second, 20*time.Millisecond)

	byID := map[string]schemas.Result{}
	for _, r := range f.results() {
		byID[r.ID] = r
	}
	assert.Equal(t, schemas.Result{ID: "cmd-1", SessionID: testSession, Screenshot: "iVBOR", URL: "https://example.com/"}, byID["cmd-1"])
	assert.Equal(t, schemas.Result{ID: "cmd-2", Error: "boom"}, byID["cmd-2"])

	for _, id := range []string{first, second} {
		require.Eventually(t, func() bool {
			m := f.message(id)
			return m != nil && m.Acks == 1
		}, 5*time.Second, 20*time.Millisecond, "message %s acked exactly once", id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, payloads, 2)
}

func TestPubSubChannel_MalformedMessagesAreAckedAndDropped(t *testing.T) {
	f := newPubSubFixture(t)
	ch := f.newChannel(t)

	var mu sync.Mutex
	var delivered []string
	require.NoError(t, ch.Subscribe(context.Background(), func(ctx context.Context, msg channel.Message) {
		mu.Lock()
		delivered = append(delivered, msg.ID())
		mu.Unlock()
		_ = msg.PublishScreenshot(ctx, "", testSession, "")
	}))
	defer ch.Disconnect(context.Background())

	ids := []string{
		f.publishCommand(t, `not json`),
		f.publishCommand(t, `{"command":{"name":"screenshot"}}`),
		f.publishCommand(t, `{"id":"no-command"}`),
		f.publishCommand(t, `{"id":"ok","command":{"name":"screenshot"}}`),
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			m := f.message(id)
			return m != nil && m.Acks == 1
		}, 10*time.Second, 20*time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok"}, delivered)
}

func TestPubSubChannel_ReusesExistingSubscription(t *testing.T) {
	f := newPubSubFixture(t)
	commandTopic, subscription, _ := f.cfg.Names(testSession)
	_, err := f.admin.CreateSubscription(context.Background(), subscription, pubsub.SubscriptionConfig{
		Topic: f.admin.Topic(commandTopic),
	})
	require.NoError(t, err)

	ch := f.newChannel(t)
	done := make(chan string, 1)
	require.NoError(t, ch.Subscribe(context.Background(), func(ctx context.Context, msg channel.Message) {
		_ = msg.PublishScreenshot(ctx, "", testSession, "")
		done <- msg.ID()
	}))
	defer ch.Disconnect(context.Background())

	f.publishCommand(t, `{"id":"reused","command":{"name":"screenshot"}}`)
	select {
	case id := <-done:
		assert.Equal(t, "reused", id)
	case <-time.After(10 * time.Second):
		t.Fatal("message was not delivered through the existing subscription")
	}
}

func TestPubSubChannel_MissingTopicIsTransportError(t *testing.T) {
	f := newPubSubFixture(t)
	f.cfg.CommandTopic = "missing-%s"
	f.cfg.CommandSubscription = "missing-%s"
	ch := f.newChannel(t)
	defer ch.Disconnect(context.Background())

	err := ch.Subscribe(context.Background(), func(context.Context, channel.Message) {})
	var transportErr *channel.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "create subscription", transportErr.Op)
}

func TestPubSubChannel_DisconnectIsIdempotent(t *testing.T) {
	f := newPubSubFixture(t)
	ch := f.newChannel(t)
	require.NoError(t, ch.Subscribe(context.Background(), func(context.Context, channel.Message) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ch.Disconnect(ctx))
	assert.NoError(t, ch.Disconnect(ctx))
}
