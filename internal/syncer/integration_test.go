package syncer

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/auth"
	"github.com/MarcoPoloResearchLab/twogether/internal/backend"
	"github.com/MarcoPoloResearchLab/twogether/internal/database"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/realtime"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/MarcoPoloResearchLab/twogether/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type hostedBackend struct {
	url        string
	issuer     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher[remote.Event]
}

func startHostedBackend(t *testing.T) hostedBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:twogether_hosted_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, database.Schema{Name: "backend", Models: backend.Models()}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open backend database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	dispatcher := realtime.NewDispatcher[remote.Event](16)
	service, err := backend.NewService(backend.ServiceConfig{
		Database:   db,
		IDProvider: backend.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build backend service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("integration-secret"), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{Tokens: issuer, Tables: service, Feed: dispatcher})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return hostedBackend{url: httpServer.URL, issuer: issuer, dispatcher: dispatcher}
}

type device struct {
	manager *Manager
	store   *localstore.Store
	client  *remote.HTTPBackend
}

func (h hostedBackend) device(t *testing.T, userID string) device {
	t.Helper()
	token, _, err := h.issuer.IssueAccessToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	client, err := remote.NewHTTPBackend(remote.HTTPConfig{
		BaseURL:       h.url,
		AccessToken:   token,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectCap:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	store := openDeviceStore(t)
	manager, err := NewManager(ManagerConfig{Local: store, Remote: client})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Cleanup() })
	return device{manager: manager, store: store, client: client}
}

func (h hostedBackend) waitForSubscribers(t *testing.T, topic string, count int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.dispatcher.SubscriberCount(topic) < count {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers on %s", count, topic)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPartnersConvergeThroughHostedBackend(t *testing.T) {
	hosted := startHostedBackend(t)
	ctx := context.Background()
	alex := hosted.device(t, "alex")
	sam := hosted.device(t, "sam")

	if err := alex.client.Upsert(ctx, remote.TablePartnerships, remote.Row{
		"id": "pair-1", "user1_id": "alex", "user2_id": "sam", "status": "active",
	}); err != nil {
		t.Fatalf("failed to create partnership: %v", err)
	}

	offline := testChallenge("c-offline", "Plan a trip")
	if err := alex.store.PutChallenge(ctx, offline); err != nil {
		t.Fatalf("failed to seed offline challenge: %v", err)
	}

	if _, ok := alex.manager.Initialize(ctx, "alex"); !ok {
		t.Fatalf("expected alex to find the partnership")
	}
	if _, ok := sam.manager.Initialize(ctx, "sam"); !ok {
		t.Fatalf("expected sam to find the partnership")
	}
	if _, found, _ := sam.store.GetChallenge(ctx, "c-offline"); !found {
		t.Fatalf("expected sam to pull the challenge alex created offline")
	}

	hosted.waitForSubscribers(t, backend.Topic(remote.TableChallenges, "pair-1"), 2)
	hosted.waitForSubscribers(t, backend.Topic(remote.TablePets, "pair-1"), 2)

	challengeEvents, stopChallenges := sam.manager.Subscribe(ctx, EventChallengeChanged)
	defer stopChallenges()
	added := testChallenge("c-live", "Stargazing")
	added.CreatedBy = "alex"
	if err := alex.store.PutChallenge(ctx, added); err != nil {
		t.Fatalf("failed to store challenge: %v", err)
	}
	alex.manager.QueueSync(ctx, TypeChallenge, ActionAdd, added)

	event := receiveEvent(t, challengeEvents)
	if event.Challenge.ID != "c-live" || event.Challenge.Kind != remote.EventInsert {
		t.Fatalf("unexpected challenge event %+v", event.Challenge)
	}
	if stored, found, _ := sam.store.GetChallenge(ctx, "c-live"); !found || stored.Title != "Stargazing" {
		t.Fatalf("expected sam's store to hold the new challenge, got %+v", stored)
	}

	petEvents, stopPets := alex.manager.Subscribe(ctx, EventPetChanged)
	defer stopPets()
	state := pet.NewState("Mochi").Feed()
	sam.manager.QueueSync(ctx, TypePet, ActionUpdate, state)

	petEvent := receiveEvent(t, petEvents)
	if petEvent.Pet.State.Name != "Mochi" || petEvent.Pet.State.Hunger != state.Hunger {
		t.Fatalf("unexpected pet event %+v", petEvent.Pet.State)
	}

	if length := queueLength(t, alex.store); length != 0 {
		t.Fatalf("expected alex's queue to be drained, got %d", length)
	}
}
