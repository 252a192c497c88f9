package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
)

var errBackendDown = errors.New("backend unavailable")

type upsertCall struct {
	table string
	row   remote.Row
}

type fakeChannel struct {
	name string
	done chan struct{}
}

func (c *fakeChannel) Name() string          { return c.name }
func (c *fakeChannel) Done() <-chan struct{} { return c.done }

// fakeBackend is a scripted remote.Backend recording every call.
type fakeBackend struct {
	mu         sync.Mutex
	userID     string
	userErr    error
	rows       map[string][]remote.Row
	upsertErr  func(table string, row remote.Row) error
	removeErr  error
	upserts    []upsertCall
	deletes    []remote.Filter
	calls      []string
	handlers   map[string]remote.Handler
	subs       []remote.Subscription
	removed    []string
	upsertHook func()
}

func newFakeBackend(userID string) *fakeBackend {
	return &fakeBackend{
		userID:   userID,
		rows:     make(map[string][]remote.Row),
		handlers: make(map[string]remote.Handler),
	}
}

func (f *fakeBackend) CurrentUser(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "user")
	if f.userErr != nil {
		return "", f.userErr
	}
	return f.userID, nil
}

func (f *fakeBackend) Upsert(_ context.Context, table string, row remote.Row) error {
	f.mu.Lock()
	hook := f.upsertHook
	f.calls = append(f.calls, "upsert:"+table)
	f.upserts = append(f.upserts, upsertCall{table: table, row: row})
	failure := f.upsertErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if failure != nil {
		return failure(table, row)
	}
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, table string, filter remote.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+table)
	f.deletes = append(f.deletes, filter)
	return nil
}

func (f *fakeBackend) Select(_ context.Context, table string, filter remote.Filter) ([]remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "select:"+table)
	var matched []remote.Row
	for _, row := range f.rows[table] {
		if fmt.Sprint(row[filter.Column]) == filter.Value {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func (f *fakeBackend) Subscribe(_ context.Context, subscription remote.Subscription, handler remote.Handler) (remote.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe:"+subscription.Table)
	f.subs = append(f.subs, subscription)
	f.handlers[subscription.Table] = handler
	return &fakeChannel{name: subscription.Channel, done: make(chan struct{})}, nil
}

func (f *fakeBackend) RemoveChannel(channel remote.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, channel.Name())
	return f.removeErr
}

func (f *fakeBackend) emit(t *testing.T, table string, event remote.Event) {
	t.Helper()
	f.mu.Lock()
	handler := f.handlers[table]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription for %s", table)
	}
	handler(context.Background(), event)
}

func (f *fakeBackend) upsertCalls() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsertCall(nil), f.upserts...)
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) addPartnership(id, user1, user2, status string) {
	f.rows[remote.TablePartnerships] = append(f.rows[remote.TablePartnerships], remote.Row{
		"id": id, "user1_id": user1, "user2_id": user2, "status": status,
	})
}

func openDeviceStore(t *testing.T) *localstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:twogether_syncer_%d?mode=memory&cache=shared", time.Now().UnixNano())
	store, err := localstore.Open(localstore.Config{Path: dsn})
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestManager(t *testing.T, backend *fakeBackend, configure func(*ManagerConfig)) (*Manager, *localstore.Store) {
	t.Helper()
	store := openDeviceStore(t)
	sequence := 0
	cfg := ManagerConfig{
		Local:  store,
		Remote: backend,
		Clock:  func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },
		NewID: func() (string, error) {
			sequence++
			return fmt.Sprintf("item-%03d", sequence), nil
		},
	}
	if configure != nil {
		configure(&cfg)
	}
	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Cleanup() })
	return manager, store
}

func testChallenge(id, title string) challenges.Challenge {
	return challenges.Challenge{
		ID:        challenges.ChallengeID(id),
		Title:     title,
		Category:  challenges.CategoryOutdoors,
		Tags:      []string{"sunny"},
		CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func queueLength(t *testing.T, store *localstore.Store) int {
	t.Helper()
	length, err := store.QueueLength(context.Background())
	if err != nil {
		t.Fatalf("failed to read queue length: %v", err)
	}
	return length
}

func receiveEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync event")
		return Event{}
	}
}
