package ipc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/pkg/models"
)

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"task_done","task_id":"f-ab12","reason":"fixed","commit_hash":"abc1234"}`))
	require.NoError(t, err)
	assert.Equal(t, CmdTaskDone, cmd.Type)
	assert.Equal(t, "f-ab12", cmd.TaskID)
	assert.Equal(t, "fixed", cmd.Reason)
	assert.Equal(t, "abc1234", cmd.CommitHash)

	stop, err := DecodeCommand([]byte(`{"type":"stop","graceful":false}`))
	require.NoError(t, err)
	require.NotNil(t, stop.Graceful)
	assert.False(t, *stop.Graceful)
}

func TestDecodeCommandRejectsTypeless(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"task_id":"f-ab12"}`))
	assert.Error(t, err)
	_, err = DecodeCommand([]byte(`not json`))
	assert.Error(t, err)
}

func TestEventRoundTrip(t *testing.T) {
	ev := NewEvent(EventTaskCompleted, "inst-1")
	ev.TaskID = "f-ab12"
	ev.Completion = "success"

	data, err := Encode(ev)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	got, err := DecodeEvent(data[:len(data)-1])
	require.NoError(t, err)
	assert.Equal(t, EventTaskCompleted, got.Type)
	assert.Equal(t, "f-ab12", got.TaskID)
	assert.Equal(t, "inst-1", got.InstanceID)
}

func startServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "consume.sock")
	srv := NewServer(sock, "inst-test", 1<<20, handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Listen(ctx)

	require.Eventually(t, func() bool {
		c, err := Dial(sock, time.Second)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return srv, sock
}

func TestServerHelloAndCommandDispatch(t *testing.T) {
	var mu sync.Mutex
	var received []*Command
	srv, sock := startServer(t, func(clientID string, cmd *Command) {
		mu.Lock()
		received = append(received, cmd)
		mu.Unlock()
	})
	defer srv.Close()

	client, err := Dial(sock, time.Second)
	require.NoError(t, err)
	defer client.Close()

	ev, err := client.Next()
	require.NoError(t, err)
	assert.Equal(t, EventHello, ev.Type)
	assert.Equal(t, "inst-test", ev.InstanceID)

	require.NoError(t, client.Send(&Command{Type: CmdPause}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0].Type == CmdPause
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerBroadcastSnapshot(t *testing.T) {
	srv, sock := startServer(t, func(string, *Command) {})
	defer srv.Close()

	client, err := Dial(sock, time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Next() // hello
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	ev := NewEvent(EventSnapshot, "inst-test")
	ev.Snapshot = &models.ConsumeSnapshot{
		Paused:          true,
		IntervalSeconds: 5,
		InstanceID:      "inst-test",
	}
	srv.Broadcast(ev)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := client.WaitFor(ctx, EventSnapshot, "")
	require.NoError(t, err)
	require.NotNil(t, got.Snapshot)
	assert.True(t, got.Snapshot.Paused)
	assert.Equal(t, 5, got.Snapshot.IntervalSeconds)
}

func TestServerReplyTargetsOneClient(t *testing.T) {
	type seen struct {
		clientID string
		cmd      *Command
	}
	cmds := make(chan seen, 1)
	srv, sock := startServer(t, func(clientID string, cmd *Command) {
		cmds <- seen{clientID, cmd}
	})
	defer srv.Close()

	c1, err := Dial(sock, time.Second)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := Dial(sock, time.Second)
	require.NoError(t, err)
	defer c2.Close()

	_, err = c1.Next()
	require.NoError(t, err)
	_, err = c2.Next()
	require.NoError(t, err)

	require.NoError(t, c1.Send(&Command{Type: CmdRequestSnapshot, RequestID: "req-1"}))
	got := <-cmds

	reply := NewEvent(EventSnapshot, "inst-test")
	reply.RequestID = got.cmd.RequestID
	reply.Snapshot = &models.ConsumeSnapshot{InstanceID: "inst-test"}
	srv.Reply(got.clientID, reply)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := c1.WaitFor(ctx, EventSnapshot, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", ev.RequestID)
}

func TestClientEnqueueAfterShutdown(t *testing.T) {
	c := &client{id: "c1", send: make(chan []byte, 1)}
	require.True(t, c.shutdown())
	assert.False(t, c.shutdown(), "second shutdown is a no-op")
	// A message for a departed client is swallowed, never sent on the
	// closed channel.
	assert.True(t, c.enqueue([]byte("late\n"), false, 1<<20))
}

func TestServerBroadcastRacesDisconnect(t *testing.T) {
	srv, sock := startServer(t, func(string, *Command) {})
	defer srv.Close()

	var clients []*Client
	for i := 0; i < 8; i++ {
		c, err := Dial(sock, time.Second)
		require.NoError(t, err)
		clients = append(clients, c)
	}
	require.Eventually(t, func() bool { return srv.ClientCount() == 8 },
		2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range clients {
			c.Close()
			time.Sleep(time.Millisecond)
		}
	}()
	// Broadcasting while clients drop must never hit a closed queue.
	for i := 0; i < 500; i++ {
		ev := NewEvent(EventTaskCompleted, "inst-test")
		ev.TaskID = "f-ab12"
		srv.Broadcast(ev)
	}
	<-done
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerOnConnectSendsInitialSnapshot(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "consume.sock")
	srv := NewServer(sock, "inst-test", 1<<20, func(string, *Command) {}, zap.NewNop())
	srv.OnConnect = func(clientID string) {
		ev := NewEvent(EventSnapshot, "inst-test")
		ev.Snapshot = &models.ConsumeSnapshot{InstanceID: "inst-test", IntervalSeconds: 5}
		srv.Reply(clientID, ev)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Listen(ctx)
	defer srv.Close()

	var client *Client
	require.Eventually(t, func() bool {
		c, err := Dial(sock, time.Second)
		if err != nil {
			return false
		}
		client = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer client.Close()

	ev, err := client.Next()
	require.NoError(t, err)
	assert.Equal(t, EventHello, ev.Type)

	ev, err = client.Next()
	require.NoError(t, err)
	assert.Equal(t, EventSnapshot, ev.Type)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, 5, ev.Snapshot.IntervalSeconds)
}

func TestServerInvalidCommandGetsError(t *testing.T) {
	srv, sock := startServer(t, func(string, *Command) {})
	defer srv.Close()

	client, err := Dial(sock, time.Second)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Next()
	require.NoError(t, err)

	_, err = client.conn.Write([]byte("{\"no_type\":true}\n"))
	require.NoError(t, err)

	ev, err := client.Next()
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Type)
	assert.NotEmpty(t, ev.Error)
}

func TestServerCloseRemovesSocket(t *testing.T) {
	srv, sock := startServer(t, func(string, *Command) {})
	srv.Close()
	_, err := Dial(sock, 100*time.Millisecond)
	assert.Error(t, err)
}
