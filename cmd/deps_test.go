package cmd

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/filtering"
	"github.com/spigell/jobmail/internal/index"
	"github.com/spigell/jobmail/internal/locker"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/storage"
)

func TestDriverSelection(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	store, closeStore, err := newStore(ctx, &StorageConfig{}, log)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*storage.Memory); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	idx, closeIndex, err := newIndex(ctx, &IndexConfig{Driver: "MEMORY"}, log)
	if err != nil {
		t.Fatalf("memory index: %v", err)
	}
	defer closeIndex()
	if _, ok := idx.(*index.Memory); !ok {
		t.Fatalf("expected memory index, got %T", idx)
	}

	lock, closeLock, err := newLocker(ctx, &LockConfig{Driver: "local"}, log)
	if err != nil {
		t.Fatalf("local locker: %v", err)
	}
	defer closeLock()
	if _, ok := lock.(*locker.Local); !ok {
		t.Fatalf("expected local locker, got %T", lock)
	}

	if _, _, err := newStore(ctx, &StorageConfig{Driver: "mongo"}, log); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
	if _, _, err := newIndex(ctx, &IndexConfig{Driver: "pinecone"}, log); err == nil {
		t.Fatal("expected error for unknown index driver")
	}
	if _, _, err := newLocker(ctx, &LockConfig{Driver: "redis"}, log); err == nil {
		t.Fatal("expected error for redis driver without url")
	}
}

func TestNewOraclesRejectsUnknownProvider(t *testing.T) {
	_, err := newOracles(context.Background(), &AIConfig{Provider: "claude"}, 768, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewOraclesOpenAI(t *testing.T) {
	o, err := newOracles(context.Background(), &AIConfig{Provider: "OpenAI", APIKey: "sk-test"}, 256, zap.NewNop())
	if err != nil {
		t.Fatalf("new oracles: %v", err)
	}
	if o.classification == nil || o.embedding == nil {
		t.Fatalf("expected both oracles, got %+v", o)
	}
}

func TestNewFiltersDisables(t *testing.T) {
	steps, err := newFilters(filtering.Config{ExcludeSenders: []string{"@ads.example"}}, []string{"empty", "unknown"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new filters: %v", err)
	}

	for _, status := range filtering.Describe(steps) {
		if status.Name == "empty" && status.Enabled {
			t.Fatal("expected empty filter to be disabled")
		}
		if status.Name == "senders" && status.Details["senders"] != "@ads.example" {
			t.Fatalf("unexpected senders status %+v", status)
		}
	}
}

func TestSourcesRequireConfiguredUser(t *testing.T) {
	t.Setenv("JOBMAIL_TEST_IMAP_PASSWORD", "secret")

	config := &Config{Users: []*UserConfig{{
		Email:       "alice@example.com",
		IMAP:        &mailbox.IMAPConfig{Host: "imap.example.com:993"},
		PasswordEnv: "JOBMAIL_TEST_IMAP_PASSWORD",
	}}}
	sources := newSources(config, zap.NewNop())

	if _, err := sources("bob@example.com"); err == nil {
		t.Fatal("expected error for unknown user")
	}

	src, err := sources("Alice@Example.com")
	if err != nil {
		t.Fatalf("source for configured user: %v", err)
	}
	if _, ok := src.(*mailbox.IMAP); !ok {
		t.Fatalf("expected IMAP source, got %T", src)
	}

	if got := config.userEmails(); len(got) != 1 || got[0] != "alice@example.com" {
		t.Fatalf("unexpected users %v", got)
	}
}
