package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/coffeeshop-go/drinks"
	"github.com/ggoodman/coffeeshop-go/storage"
	"github.com/ggoodman/coffeeshop-go/storage/memory"
	"github.com/ggoodman/coffeeshop-go/storage/redis"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	mem, err := memory.New(128)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	mr := miniredis.RunT(t)
	rs, err := redis.New(redis.Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})})
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })

	return map[string]Backend{"memory": mem, "redis": rs}
}

func latte() drinks.Drink {
	return drinks.Drink{Title: "latte", Recipe: []drinks.Ingredient{
		{Name: "espresso", Color: "brown", Parts: 1},
		{Name: "milk", Color: "white", Parts: 3},
	}}
}

func TestStore_CRUD(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(b)

			list, err := s.List(ctx)
			if err != nil || len(list) != 0 {
				t.Fatalf("empty list: %v %v", list, err)
			}

			created, err := s.Create(ctx, latte())
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.ID != 1 {
				t.Fatalf("want id 1 got %d", created.ID)
			}
			second, err := s.Create(ctx, drinks.Drink{Title: "water", Recipe: []drinks.Ingredient{{Name: "water", Color: "blue", Parts: 1}}})
			if err != nil {
				t.Fatalf("create second: %v", err)
			}
			if second.ID != 2 {
				t.Fatalf("want id 2 got %d", second.ID)
			}

			got, err := s.Get(ctx, created.ID)
			if err != nil || got.Title != "latte" || len(got.Recipe) != 2 {
				t.Fatalf("get: %+v %v", got, err)
			}

			list, err = s.List(ctx)
			if err != nil || len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
				t.Fatalf("list: %+v %v", list, err)
			}

			got.Title = "flat white"
			if _, err := s.Update(ctx, got); err != nil {
				t.Fatalf("update: %v", err)
			}
			// Old title is free again.
			if _, err := s.Create(ctx, latte()); err != nil {
				t.Fatalf("reuse freed title: %v", err)
			}

			if err := s.Delete(ctx, second.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.Get(ctx, second.ID); !errors.Is(err, drinks.ErrNotFound) {
				t.Fatalf("want ErrNotFound after delete, got %v", err)
			}
			if err := s.Delete(ctx, second.ID); !errors.Is(err, drinks.ErrNotFound) {
				t.Fatalf("second delete: want ErrNotFound, got %v", err)
			}
			list, _ = s.List(ctx)
			if len(list) != 2 {
				t.Fatalf("want 2 drinks after delete, got %d", len(list))
			}
		})
	}
}

func TestStore_Conflicts(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(b)

			if _, err := s.Create(ctx, latte()); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := s.Create(ctx, latte()); !errors.Is(err, drinks.ErrConflict) {
				t.Fatalf("want ErrConflict, got %v", err)
			}

			other, err := s.Create(ctx, drinks.Drink{Title: "mocha", Recipe: latte().Recipe})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			other.Title = "latte"
			if _, err := s.Update(ctx, other); !errors.Is(err, drinks.ErrConflict) {
				t.Fatalf("rename onto taken title: want ErrConflict, got %v", err)
			}

			if _, err := s.Update(ctx, drinks.Drink{ID: 99, Title: "ghost", Recipe: latte().Recipe}); !errors.Is(err, drinks.ErrNotFound) {
				t.Fatalf("update missing: want ErrNotFound, got %v", err)
			}
			if _, err := s.Create(ctx, drinks.Drink{Title: "empty"}); !errors.Is(err, drinks.ErrInvalid) {
				t.Fatalf("want ErrInvalid, got %v", err)
			}
		})
	}
}

// flakyBackend fails document writes while failDocs is set.
type flakyBackend struct {
	Backend
	failDocs bool
}

func (f *flakyBackend) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if f.failDocs && storage.Apply(opts...).Namespace == drinksNamespace {
		return errors.New("disk full")
	}
	return f.Backend.Set(ctx, key, data, opts...)
}

func TestStore_FailedWriteKeepsTitleIndex(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fb := &flakyBackend{Backend: b}
			s := New(fb)

			created, err := s.Create(ctx, latte())
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			fb.failDocs = true
			renamed := created
			renamed.Title = "flat white"
			if _, err := s.Update(ctx, renamed); err == nil {
				t.Fatalf("want update error")
			}
			if _, err := s.Create(ctx, drinks.Drink{Title: "mocha", Recipe: latte().Recipe}); err == nil {
				t.Fatalf("want create error")
			}
			fb.failDocs = false

			got, err := s.Get(ctx, created.ID)
			if err != nil || got.Title != "latte" {
				t.Fatalf("want drink unchanged, got %+v %v", got, err)
			}
			if _, err := s.Create(ctx, latte()); !errors.Is(err, drinks.ErrConflict) {
				t.Fatalf("old title must stay taken, got %v", err)
			}
			for _, title := range []string{"flat white", "mocha"} {
				if _, err := s.Create(ctx, drinks.Drink{Title: title, Recipe: latte().Recipe}); err != nil {
					t.Fatalf("title %q must be free after failed write: %v", title, err)
				}
			}
		})
	}
}
