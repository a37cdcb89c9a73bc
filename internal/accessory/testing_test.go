package accessory

import (
	"context"
	"sync"
	"testing"

	"github.com/ilot95/hmip-bridge/internal/infrastructure/config"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/database"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/mqtt"
	"github.com/ilot95/hmip-bridge/migrations"
)

// setupTestDB opens an in-memory database with all migrations applied.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

// mockBroker implements Broker for testing.
type mockBroker struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]mqtt.MessageHandler
	notify    chan published
}

func newMockBroker() *mockBroker {
	return &mockBroker{handlers: make(map[string]mqtt.MessageHandler), notify: make(chan published, 64)}
}

func (m *mockBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	p := published{Topic: topic, Payload: string(payload), Retained: retained}
	m.mu.Lock()
	m.published = append(m.published, p)
	m.mu.Unlock()
	m.notify <- p
	return nil
}

func (m *mockBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// Deliver invokes the handler subscribed to filter.
func (m *mockBroker) Deliver(t *testing.T, filter, topic, payload string) {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[filter]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", filter)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

func (m *mockBroker) Published() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

type recorded struct {
	AccessoryID, EndpointID, Characteristic string
	Value                                   any
}

type mockRecorder struct {
	mu      sync.Mutex
	records []recorded
}

func (m *mockRecorder) RecordCharacteristic(accessoryID, endpointID, characteristic string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recorded{accessoryID, endpointID, characteristic, value})
}

func (m *mockRecorder) Records() []recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recorded(nil), m.records...)
}
