package accessorysvc

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/inkbridge/inkbridge-agent/internal/notify"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedManager reports no accessory for the first `attachAt-1` listings, an unauthorized
// accessory until listing `authorizeAt`, and an authorized one from then on.
type scriptedManager struct {
	mu          sync.Mutex
	listings    int
	attachAt    int
	authorizeAt int
	listErr     error
}

func (m *scriptedManager) Accessories() ([]Accessory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings++
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.attachAt == 0 || m.listings < m.attachAt {
		return nil, nil
	}
	return []Accessory{
		{ID: "first", Devnode: "/dev/usb_accessory"},
		{ID: "second", Devnode: "/dev/usb_accessory1"},
	}, nil
}

func (m *scriptedManager) HasPermission(acc Accessory) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc.ID != "first" {
		panic("only the first accessory may be considered")
	}
	return m.authorizeAt != 0 && m.listings >= m.authorizeAt
}

func (m *scriptedManager) Open(Accessory) (io.WriteCloser, error) {
	return nil, errors.New("not used")
}

type notificationRecorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *notificationRecorder) publish(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *notificationRecorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.items...)
}

func TestDiscoveryAuthorizesAtPollM(t *testing.T) {
	const n, m = 3, 6
	manager := &scriptedManager{attachAt: n + 1, authorizeAt: m}
	recorder := &notificationRecorder{}
	var states []State

	d := NewDiscovery(zap.NewNop(), manager,
		WithPollInterval(time.Millisecond),
		WithNotify(recorder.publish),
		WithPollHook(func(s State) { states = append(states, s) }),
	)
	acc, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "first", acc.ID)
	assert.Equal(t, int64(m), d.Polls())
	assert.Equal(t, Authorized, d.State())
	assert.Equal(t, []State{
		Searching, Searching, Searching,
		FoundUnauthorized, FoundUnauthorized,
		Authorized,
	}, states)

	notes := recorder.all()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.NotConnected, notes[0].Kind)
}

func TestDiscoveryAuthorizedImmediately(t *testing.T) {
	manager := &scriptedManager{attachAt: 1, authorizeAt: 1}
	recorder := &notificationRecorder{}
	d := NewDiscovery(zap.NewNop(), manager, WithNotify(recorder.publish))
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Polls())
	assert.Empty(t, recorder.all())
}

func TestDiscoveryCancel(t *testing.T) {
	manager := &scriptedManager{}
	recorder := &notificationRecorder{}
	d := NewDiscovery(zap.NewNop(), manager,
		WithPollInterval(10*time.Millisecond),
		WithNotify(recorder.publish),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx)
		done <- err
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var connErr *transport.ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, transport.ConnectNotFound, connErr.Kind)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("discovery did not observe cancellation")
	}
	assert.Equal(t, Cancelled, d.State())
	assert.Len(t, recorder.all(), 1, "not connected is reported once, not per empty poll")
}

func TestDiscoveryListErrorCountsAsEmpty(t *testing.T) {
	manager := &scriptedManager{listErr: errors.New("udev unavailable")}
	d := NewDiscovery(zap.NewNop(), manager, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Cancelled, d.State())
}
