package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/realtime"
	"github.com/MarcoPoloResearchLab/twogether/internal/syncer"
)

type queuedSync struct {
	itemType string
	action   string
	data     any
}

type recordingSync struct {
	mu     sync.Mutex
	queued []queuedSync
	events *realtime.Dispatcher[syncer.Event]
}

func newRecordingSync() *recordingSync {
	return &recordingSync{events: realtime.NewDispatcher[syncer.Event](8)}
}

func (r *recordingSync) QueueSync(_ context.Context, itemType, action string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, queuedSync{itemType: itemType, action: action, data: data})
}

func (r *recordingSync) Subscribe(ctx context.Context, kind syncer.EventKind) (<-chan syncer.Event, func()) {
	return r.events.Subscribe(ctx, string(kind))
}

func (r *recordingSync) calls() []queuedSync {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queuedSync(nil), r.queued...)
}

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	service *Service
	store   *localstore.Store
	sync    *recordingSync
	clock   *mutableClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:twogether_companion_%d?mode=memory&cache=shared", time.Now().UnixNano())
	store, err := localstore.Open(localstore.Config{Path: dsn})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := &mutableClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	recorder := newRecordingSync()
	service, err := NewService(ServiceConfig{Store: store, Sync: recorder, Clock: clock.Now, PetName: "Mochi"})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	if err := service.Load(context.Background()); err != nil {
		t.Fatalf("failed to load service: %v", err)
	}
	return fixture{service: service, store: store, sync: recorder, clock: clock}
}

func TestLoadCreatesDefaultPet(t *testing.T) {
	f := newFixture(t)
	stored, found, err := f.store.GetPet(context.Background())
	if err != nil || !found {
		t.Fatalf("expected pet to be created, found=%v err=%v", found, err)
	}
	if stored.Name != "Mochi" || f.service.Pet().Name != "Mochi" {
		t.Fatalf("unexpected pet %+v", stored)
	}
	if len(f.sync.calls()) != 0 {
		t.Fatalf("creating the pet must not queue a sync")
	}
}

func TestLoadAppliesDecayForIdleHours(t *testing.T) {
	f := newFixture(t)
	before := f.service.Pet()

	f.clock.Advance(5*time.Hour + 20*time.Minute)
	if err := f.service.Load(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	after := f.service.Pet()
	if after.Hunger != before.Hunger-20 || after.Energy != before.Energy-20 {
		t.Fatalf("expected five hours of decay, before %+v after %+v", before, after)
	}

	f.clock.Advance(50 * time.Minute)
	if err := f.service.Load(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := f.service.Pet(); got.Hunger != after.Hunger-4 {
		t.Fatalf("expected the leftover minutes to count toward the next hour, got %d", got.Hunger)
	}
}

func TestAddChallengeWritesLocallyAndQueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.service.RecordSession(ctx, "user-a", "P1"); err != nil {
		t.Fatalf("record session failed: %v", err)
	}

	challenge, err := f.service.AddChallenge(ctx, challenges.NewChallengeConfig{Title: "Cook dinner", Category: "at-home"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if challenge.CreatedBy != "user-a" {
		t.Fatalf("expected creator from settings, got %q", challenge.CreatedBy)
	}
	if _, found, _ := f.store.GetChallenge(ctx, challenge.ID); !found {
		t.Fatalf("expected optimistic local write")
	}
	if list := f.service.Challenges(); len(list) != 1 || list[0].ID != challenge.ID {
		t.Fatalf("expected in-memory list to include the challenge, got %v", list)
	}

	calls := f.sync.calls()
	if len(calls) != 1 || calls[0].itemType != syncer.TypeChallenge || calls[0].action != syncer.ActionAdd {
		t.Fatalf("unexpected sync calls %+v", calls)
	}
	history, _ := f.service.History(ctx, 1)
	if len(history) != 1 || history[0].Kind != KindChallengeAdded {
		t.Fatalf("unexpected history %+v", history)
	}

	if _, err := f.service.AddChallenge(ctx, challenges.NewChallengeConfig{Title: "", Category: "at-home"}); !errors.Is(err, challenges.ErrInvalidTitle) {
		t.Fatalf("expected invalid title, got %v", err)
	}
}

func TestCompleteChallengeRewardsPet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	challenge, err := f.service.AddChallenge(ctx, challenges.NewChallengeConfig{Title: "Sunrise hike", Category: "outdoors"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	before := f.service.Pet()

	completed, rewarded, err := f.service.CompleteChallenge(ctx, challenge.ID, "worth it")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !completed.Completed() || completed.Notes != "worth it" {
		t.Fatalf("unexpected completion %+v", completed)
	}
	if rewarded.XP != before.XP+challenges.XPReward || rewarded.Coins != before.Coins+challenges.CoinReward {
		t.Fatalf("expected +%d xp and +%d coins, before %+v after %+v", challenges.XPReward, challenges.CoinReward, before, rewarded)
	}
	stored, _, _ := f.store.GetPet(ctx)
	if stored.Coins != rewarded.Coins {
		t.Fatalf("expected rewarded pet to be stored")
	}

	calls := f.sync.calls()
	if len(calls) != 3 {
		t.Fatalf("expected add, update and pet sync, got %+v", calls)
	}
	if calls[1].action != syncer.ActionUpdate || calls[2].itemType != syncer.TypePet {
		t.Fatalf("unexpected sync calls %+v", calls)
	}

	if _, _, err := f.service.CompleteChallenge(ctx, challenge.ID, ""); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	if _, _, err := f.service.CompleteChallenge(ctx, "missing", ""); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestDeleteChallengeQueuesDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	challenge, _ := f.service.AddChallenge(ctx, challenges.NewChallengeConfig{Title: "Museum", Category: "creative"})

	if err := f.service.DeleteChallenge(ctx, challenge.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(f.service.Challenges()) != 0 {
		t.Fatalf("expected empty list")
	}
	calls := f.sync.calls()
	last := calls[len(calls)-1]
	if last.action != syncer.ActionDelete {
		t.Fatalf("expected delete sync, got %+v", last)
	}
	if err := f.service.DeleteChallenge(ctx, challenge.ID); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestPetInteractionsQueueFullDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.BuyItem(ctx, "bow-tie"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := f.service.EquipItem(ctx, "bow-tie"); err != nil {
		t.Fatalf("equip failed: %v", err)
	}
	state, err := f.service.UnequipSlot(ctx, pet.SlotAccessory)
	if err != nil {
		t.Fatalf("unequip failed: %v", err)
	}
	if state.Equipped.AccessoryID != "" || !state.Owns("bow-tie") {
		t.Fatalf("unexpected pet %+v", state)
	}
	if _, err := f.service.EquipItem(ctx, "raincoat"); !errors.Is(err, pet.ErrItemNotOwned) {
		t.Fatalf("expected ErrItemNotOwned, got %v", err)
	}

	calls := f.sync.calls()
	if len(calls) != 3 {
		t.Fatalf("expected three pet syncs, got %d", len(calls))
	}
	last, ok := calls[2].data.(pet.State)
	if !ok || last.Equipped.AccessoryID != "" || len(last.Inventory) != 1 {
		t.Fatalf("expected full pet snapshot, got %#v", calls[2].data)
	}

	for _, action := range []func(context.Context) (pet.State, error){f.service.FeedPet, f.service.PlayWithPet, f.service.CleanPet, f.service.RestPet} {
		if _, err := action(ctx); err != nil {
			t.Fatalf("pet action failed: %v", err)
		}
	}
	if _, err := f.service.RenamePet(ctx, "  "); !errors.Is(err, pet.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if renamed, err := f.service.RenamePet(ctx, "Biscuit"); err != nil || renamed.Name != "Biscuit" {
		t.Fatalf("rename failed: %+v %v", renamed, err)
	}
}

func TestPetEventsReplaceStateInFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.BuyItem(ctx, "sunglasses"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	first := pet.NewState("Partner Pet")
	first.Hunger = 10
	second := pet.NewState("Partner Pet, renamed")
	second.Coins = 7
	f.service.HandleEvent(ctx, syncer.Event{Kind: syncer.EventPetChanged, Pet: &syncer.PetChangeEvent{State: first, CommitTimestamp: f.clock.Now()}})
	f.service.HandleEvent(ctx, syncer.Event{Kind: syncer.EventPetChanged, Pet: &syncer.PetChangeEvent{State: second, CommitTimestamp: f.clock.Now().Add(time.Second)}})

	current := f.service.Pet()
	if current.Name != second.Name || current.Hunger != second.Hunger || current.Coins != 7 {
		t.Fatalf("expected later document to win in full, got %+v", current)
	}
	if current.Owns("sunglasses") {
		t.Fatalf("local inventory must not be merged into the remote document")
	}
	stored, _, _ := f.store.GetPet(ctx)
	if stored.Name != second.Name {
		t.Fatalf("expected stored pet to be replaced, got %+v", stored)
	}
}

func TestRunReloadsChallengesOnEvent(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.service.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.sync.events.SubscriberCount(string(syncer.EventChallengeChanged)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	remote := challenges.Challenge{ID: "from-partner", Title: "Partner idea", Category: challenges.CategoryCustom, Tags: []string{}, CreatedAt: f.clock.Now()}
	if err := f.store.PutChallenge(context.Background(), remote); err != nil {
		t.Fatalf("failed to store challenge: %v", err)
	}
	f.sync.events.Publish(string(syncer.EventChallengeChanged), syncer.Event{Kind: syncer.EventChallengeChanged, Challenge: &syncer.ChallengeChangeEvent{ID: remote.ID}})

	for len(f.service.Challenges()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for reload")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestRelationshipMilestones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Relationship(ctx); !errors.Is(err, ErrNoRelationshipStart) {
		t.Fatalf("expected ErrNoRelationshipStart, got %v", err)
	}
	start, err := f.service.SetRelationshipStart(ctx, "2025-06-01", "Sam")
	if err != nil {
		t.Fatalf("set start failed: %v", err)
	}
	if start.Format(time.DateOnly) != "2025-06-01" {
		t.Fatalf("unexpected start %v", start)
	}
	summary, err := f.service.Relationship(ctx)
	if err != nil {
		t.Fatalf("relationship failed: %v", err)
	}
	if summary.DaysTogether != 365 || summary.Months != 12 || summary.PartnerName != "Sam" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Upcoming) == 0 {
		t.Fatalf("expected upcoming milestones")
	}
}

func TestOutOfOrderPetUpdatesKeepNewestVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newer := pet.NewState("Partner Pet")
	newer.Hunger = 10
	older := pet.NewState("Partner Pet, earlier")
	older.Hunger = 90

	f.service.HandleEvent(ctx, syncer.Event{Kind: syncer.EventPetChanged, Pet: &syncer.PetChangeEvent{State: newer, Version: 5, CommitTimestamp: f.clock.Now()}})
	f.service.HandleEvent(ctx, syncer.Event{Kind: syncer.EventPetChanged, Pet: &syncer.PetChangeEvent{State: older, Version: 4, CommitTimestamp: f.clock.Now().Add(-time.Second)}})

	if current := f.service.Pet(); current.Name != newer.Name || current.Hunger != 10 {
		t.Fatalf("expected version 5 to survive a late version 4, got %+v", current)
	}
	stored, _, err := f.store.GetPet(ctx)
	if err != nil || stored.Name != newer.Name {
		t.Fatalf("expected stored pet at version 5, got %+v err=%v", stored, err)
	}

	latest := pet.NewState("Partner Pet, latest")
	f.service.HandleEvent(ctx, syncer.Event{Kind: syncer.EventPetChanged, Pet: &syncer.PetChangeEvent{State: latest, Version: 6, CommitTimestamp: f.clock.Now()}})
	if current := f.service.Pet(); current.Name != latest.Name {
		t.Fatalf("expected version 6 to apply, got %+v", current)
	}
}
