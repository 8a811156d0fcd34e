//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"product-trace/internal/trace"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDBName = "test_trace"
	testDBUser = "test"
	testDBPass = "test"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:17-alpine"),
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	m, err := migrate.New("file://"+migrationsDir(t), connStr)
	if err != nil {
		t.Fatalf("init migrate: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("run migrations: %v", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		t.Fatalf("close migrate source: %v", srcErr)
	}
	if dbErr != nil {
		t.Fatalf("close migrate db: %v", dbErr)
	}

	return db
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations", "trace")
}

func mustCreate(t *testing.T, repo *PostgresRepository, name string) trace.Product {
	t.Helper()
	p, err := repo.Create(context.Background(), name, "Acme", "", "Packaged", "Boxed at plant")
	if err != nil {
		t.Fatalf("create %q: %v", name, err)
	}
	return p
}

func TestPostgresRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("creates product with its initial event atomically", func(t *testing.T) {
		p, err := repo.Create(ctx, "Widget", "Acme", "/uploads/w.png", "Packaged", "Boxed at plant")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.ID == 0 {
			t.Fatal("expected non-zero ID")
		}
		if len(p.History) != 1 {
			t.Fatalf("want singleton history, got %d events", len(p.History))
		}
		if p.History[0].Status != "Packaged" || p.History[0].Seq != 1 {
			t.Fatalf("unexpected initial event: %+v", p.History[0])
		}
		if !p.History[0].Timestamp.Equal(p.CreatedAt) {
			t.Fatalf("initial event timestamp %v should equal created_at %v", p.History[0].Timestamp, p.CreatedAt)
		}

		stored, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("get after create: %v", err)
		}
		if len(stored.History) != 1 {
			t.Fatalf("stored product must have its creation event, got %d", len(stored.History))
		}
	})

	t.Run("ids increase and are never reused", func(t *testing.T) {
		p1 := mustCreate(t, repo, "A")
		if err := repo.Delete(ctx, p1.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		p2 := mustCreate(t, repo, "B")
		if p2.ID <= p1.ID {
			t.Fatalf("expected p2.ID > p1.ID even after delete, got %d <= %d", p2.ID, p1.ID)
		}
	})

	t.Run("concurrent creates yield distinct ids", func(t *testing.T) {
		const workers = 10
		ids := make([]int64, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := repo.Create(ctx, "Concurrent", "Acme", "", "Packaged", "Boxed")
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				ids[i] = p.ID
			}(i)
		}
		wg.Wait()

		seen := make(map[int64]bool, workers)
		for _, id := range ids {
			if id == 0 {
				t.Fatal("missing id from concurrent create")
			}
			if seen[id] {
				t.Fatalf("duplicate id %d", id)
			}
			seen[id] = true
		}
	})
}

func TestPostgresRepository_AppendEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("appends in order with non-decreasing timestamps", func(t *testing.T) {
		p := mustCreate(t, repo, "Ordered")

		statuses := []string{"Shipped", "In transit", "Delivered"}
		for _, status := range statuses {
			if _, err := repo.AppendEvent(ctx, p.ID, status, "details", "HCMC"); err != nil {
				t.Fatalf("append %q: %v", status, err)
			}
		}

		stored, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(stored.History) != len(statuses)+1 {
			t.Fatalf("want %d events, got %d", len(statuses)+1, len(stored.History))
		}
		for i, status := range statuses {
			if stored.History[i+1].Status != status {
				t.Fatalf("event %d: want status %q, got %q", i+1, status, stored.History[i+1].Status)
			}
		}
		for i := 1; i < len(stored.History); i++ {
			if stored.History[i].Seq != stored.History[i-1].Seq+1 {
				t.Fatalf("seq must be contiguous: %d after %d", stored.History[i].Seq, stored.History[i-1].Seq)
			}
			if stored.History[i].Timestamp.Before(stored.History[i-1].Timestamp) {
				t.Fatalf("timestamps must not decrease: %v after %v", stored.History[i].Timestamp, stored.History[i-1].Timestamp)
			}
		}
		if stored.Current().Status != "Delivered" {
			t.Fatalf("want current status Delivered, got %q", stored.Current().Status)
		}
	})

	t.Run("unknown product returns ErrNotFound and records nothing", func(t *testing.T) {
		_, err := repo.AppendEvent(ctx, 999999, "Shipped", "details", "")
		if !errors.Is(err, trace.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}

		var count int64
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_events WHERE product_id = 999999`).Scan(&count); err != nil {
			t.Fatalf("count events: %v", err)
		}
		if count != 0 {
			t.Fatalf("no event should be recorded for unknown product, got %d", count)
		}
	})

	t.Run("concurrent appends keep a contiguous sequence", func(t *testing.T) {
		p := mustCreate(t, repo, "Contended")

		const workers = 8
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.AppendEvent(ctx, p.ID, "Moved", "hop", ""); err != nil {
					t.Errorf("append: %v", err)
				}
			}()
		}
		wg.Wait()

		stored, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(stored.History) != workers+1 {
			t.Fatalf("want %d events, got %d", workers+1, len(stored.History))
		}
		seqs := make([]int64, 0, len(stored.History))
		for _, e := range stored.History {
			seqs = append(seqs, e.Seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		for i, seq := range seqs {
			if seq != int64(i)+1 {
				t.Fatalf("want contiguous seqs 1..%d, got %v", workers+1, seqs)
			}
		}
	})

	t.Run("location is optional", func(t *testing.T) {
		p := mustCreate(t, repo, "NoLocation")
		event, err := repo.AppendEvent(ctx, p.ID, "Shipped", "details", "")
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if event.Location != "" {
			t.Fatalf("want empty location, got %q", event.Location)
		}

		stored, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.History[1].Location != "" {
			t.Fatalf("want empty stored location, got %q", stored.History[1].Location)
		}
	})
}

func TestPostgresRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("returns ErrNotFound for missing product", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 999999)
		if !errors.Is(err, trace.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		p, err := repo.Create(ctx, "Widget", "Acme", "", "Packaged", "Boxed at plant")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := repo.AppendEvent(ctx, p.ID, "Shipped", "Left warehouse", "HCMC"); err != nil {
			t.Fatalf("append: %v", err)
		}

		stored, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Name != "Widget" || stored.Manufacturer != "Acme" {
			t.Fatalf("unexpected product: %+v", stored)
		}
		if len(stored.History) != 2 {
			t.Fatalf("want 2 events, got %d", len(stored.History))
		}
		if stored.Current().Status != "Shipped" || stored.Current().Location != "HCMC" {
			t.Fatalf("unexpected current status: %+v", stored.Current())
		}
	})
}

func TestPostgresRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("empty ledger returns empty slice", func(t *testing.T) {
		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if list == nil {
			t.Fatal("expected non-nil empty slice")
		}
		if len(list) != 0 {
			t.Fatalf("want 0 items, got %d", len(list))
		}
	})

	t.Run("returns every product with its current status", func(t *testing.T) {
		names := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}
		created := make(map[int64]string, len(names))
		for _, name := range names {
			p := mustCreate(t, repo, name)
			created[p.ID] = name
		}

		var updatedID int64
		for id := range created {
			updatedID = id
			break
		}
		if _, err := repo.AppendEvent(ctx, updatedID, "Shipped", "Left warehouse", ""); err != nil {
			t.Fatalf("append: %v", err)
		}

		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != len(names) {
			t.Fatalf("want %d items, got %d", len(names), len(list))
		}
		for _, p := range list {
			if _, ok := created[p.ID]; !ok {
				t.Fatalf("unexpected product %d in list", p.ID)
			}
			current := p.Current()
			if current == nil {
				t.Fatalf("product %d missing current status", p.ID)
			}
			want := "Packaged"
			if p.ID == updatedID {
				want = "Shipped"
			}
			if current.Status != want {
				t.Fatalf("product %d: want status %q, got %q", p.ID, want, current.Status)
			}
		}
	})

	t.Run("ordered by id DESC", func(t *testing.T) {
		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := 1; i < len(list); i++ {
			if list[i].ID >= list[i-1].ID {
				t.Fatalf("expected descending order, got id %d after %d", list[i].ID, list[i-1].ID)
			}
		}
	})
}

func TestPostgresRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)
	ctx := context.Background()

	t.Run("deletes product and its events", func(t *testing.T) {
		p := mustCreate(t, repo, "ToDelete")
		if _, err := repo.AppendEvent(ctx, p.ID, "Shipped", "gone", ""); err != nil {
			t.Fatalf("append: %v", err)
		}

		if err := repo.Delete(ctx, p.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, trace.ErrNotFound) {
			t.Fatalf("want ErrNotFound after delete, got %v", err)
		}

		var count int64
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_events WHERE product_id = $1`, p.ID).Scan(&count); err != nil {
			t.Fatalf("count events: %v", err)
		}
		if count != 0 {
			t.Fatalf("events should be removed with the product, got %d", count)
		}
	})

	t.Run("returns ErrNotFound for non-existent ID", func(t *testing.T) {
		if err := repo.Delete(ctx, 999999); !errors.Is(err, trace.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestPostgresRepository_Health(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgres(db)

	if err := repo.Health(); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}
