// Package kvstore implements drinks.Store on top of a storage backend
// (memory or redis).
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/ggoodman/coffeeshop-go/drinks"
	"github.com/ggoodman/coffeeshop-go/storage"
)

const (
	drinksNamespace = "drinks"
	titleNamespace  = "drink_titles"
	idCounterKey    = "drink_id"
)

// Backend is a storage that can also allocate ids.
type Backend interface {
	storage.Storage
	storage.Counter
}

// Store keeps each drink as a JSON document keyed by id, plus a title -> id
// index enforcing uniqueness. Writes are serialized within the process.
type Store struct {
	backend Backend
	mu      sync.Mutex
}

// New returns a store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	keys, err := s.backend.List(ctx, storage.WithNamespace(drinksNamespace))
	if err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}
	out := make([]drinks.Drink, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		d, err := s.Get(ctx, id)
		if err != nil {
			// Deleted between List and Get.
			if errors.Is(err, drinks.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (drinks.Drink, error) {
	item, err := s.backend.Get(ctx, idKey(id), storage.WithNamespace(drinksNamespace))
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("get drink %d: %w", id, err)
	}
	if item == nil {
		return drinks.Drink{}, drinks.ErrNotFound
	}
	var d drinks.Drink
	if err := json.Unmarshal(item.Data, &d); err != nil {
		return drinks.Drink{}, fmt.Errorf("decode drink %d: %w", id, err)
	}
	return d, nil
}

func (s *Store) Create(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	if err := d.Validate(); err != nil {
		return drinks.Drink{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if taken, err := s.titleOwner(ctx, d.Title); err != nil {
		return drinks.Drink{}, err
	} else if taken != 0 {
		return drinks.Drink{}, drinks.ErrConflict
	}

	id, err := s.backend.Incr(ctx, idCounterKey, storage.WithNamespace(drinksNamespace))
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("allocate drink id: %w", err)
	}
	d.ID = id
	if err := s.put(ctx, d, true); err != nil {
		return drinks.Drink{}, err
	}
	return d, nil
}

func (s *Store) Update(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	if err := d.Validate(); err != nil {
		return drinks.Drink{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.Get(ctx, d.ID)
	if err != nil {
		return drinks.Drink{}, err
	}
	renamed := prev.Title != d.Title
	if renamed {
		owner, err := s.titleOwner(ctx, d.Title)
		if err != nil {
			return drinks.Drink{}, err
		}
		if owner != 0 && owner != d.ID {
			return drinks.Drink{}, drinks.ErrConflict
		}
	}
	if err := s.put(ctx, d, renamed); err != nil {
		return drinks.Drink{}, err
	}
	// The old title is released only once the new document is stored.
	if renamed {
		if err := s.backend.Delete(ctx, storage.WithNamespace(titleNamespace), storage.WithKey(prev.Title)); err != nil {
			return drinks.Drink{}, fmt.Errorf("drop title index: %w", err)
		}
	}
	return d, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, storage.WithNamespace(drinksNamespace), storage.WithKey(idKey(id))); err != nil {
		return fmt.Errorf("delete drink %d: %w", id, err)
	}
	if err := s.backend.Delete(ctx, storage.WithNamespace(titleNamespace), storage.WithKey(d.Title)); err != nil {
		return fmt.Errorf("drop title index: %w", err)
	}
	return nil
}

// put claims the title index and then writes the document. With
// claimed set the index entry is new to this write and is dropped again if
// the document cannot be stored.
func (s *Store) put(ctx context.Context, d drinks.Drink, claimed bool) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode drink: %w", err)
	}
	if err := s.backend.Set(ctx, d.Title, []byte(idKey(d.ID)), storage.WithNamespace(titleNamespace)); err != nil {
		return fmt.Errorf("index drink title: %w", err)
	}
	if err := s.backend.Set(ctx, idKey(d.ID), data, storage.WithNamespace(drinksNamespace)); err != nil {
		if claimed {
			_ = s.backend.Delete(ctx, storage.WithNamespace(titleNamespace), storage.WithKey(d.Title))
		}
		return fmt.Errorf("store drink %d: %w", d.ID, err)
	}
	return nil
}

// titleOwner returns the id holding title, or 0.
func (s *Store) titleOwner(ctx context.Context, title string) (int64, error) {
	item, err := s.backend.Get(ctx, title, storage.WithNamespace(titleNamespace))
	if err != nil {
		return 0, fmt.Errorf("lookup title: %w", err)
	}
	if item == nil {
		return 0, nil
	}
	id, err := strconv.ParseInt(string(item.Data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt title index for %q: %w", title, err)
	}
	return id, nil
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

var _ drinks.Store = (*Store)(nil)
