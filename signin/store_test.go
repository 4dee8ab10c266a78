package signin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test", time.Minute), mr
}

func storeImplementations(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStoreTest(t)
	return map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  redisStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Create(ctx, NewState("/next"))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if id == "" {
				t.Fatal("empty flow id")
			}

			st, err := store.Update(ctx, id, func(s *State) error {
				*s = Reduce(*s, CaptchaSucceeded{Token: "tok"})
				return nil
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if st.CaptchaToken != "tok" {
				t.Fatalf("update result captcha=%q", st.CaptchaToken)
			}

			loaded, err := store.Load(ctx, id)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.CaptchaToken != "tok" || loaded.RedirectTo != "/next" || loaded.Phase != PhaseEmail {
				t.Fatalf("loaded state mismatch: %+v", loaded)
			}

			if err := store.Delete(ctx, id); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Load(ctx, id); !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("load after delete err=%v want ErrFlowNotFound", err)
			}
		})
	}
}

func TestStoreUpdateCallbackErrorWritesNothing(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Create(ctx, NewState(""))
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			st, err := store.Update(ctx, id, func(s *State) error {
				s.CaptchaToken = "should not persist"
				return ErrWrongPhase
			})
			if !errors.Is(err, ErrWrongPhase) {
				t.Fatalf("err=%v want ErrWrongPhase", err)
			}
			if st.CaptchaToken != "" {
				t.Fatalf("returned state should be the stored one, got %+v", st)
			}
			loaded, _ := store.Load(ctx, id)
			if loaded.CaptchaToken != "" {
				t.Fatalf("callback error leaked a write: %+v", loaded)
			}
		})
	}
}

func TestStoreUpdateUnknownFlow(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Update(context.Background(), "missing", func(*State) error { return nil })
			if !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("err=%v want ErrFlowNotFound", err)
			}
		})
	}
}

func TestStoreConcurrentPendingClaimsAreExclusive(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Create(ctx, Reduce(NewState(""), CaptchaSucceeded{Token: "tok"}))
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			const workers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				claimed int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Update(ctx, id, func(s *State) error {
						if s.Email.Pending {
							return ErrSubmissionPending
						}
						*s = Reduce(*s, EmailSubmitStarted{At: time.Now()})
						return nil
					})
					if err == nil {
						mu.Lock()
						claimed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			// Redis may give up under contention, but never hands the slot out twice.
			if claimed != 1 && !(name == "redis" && claimed == 0) {
				t.Fatalf("claimed=%d want 1", claimed)
			}
		})
	}
}

func TestMemoryStoreExpiresFlows(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	id, err := store.Create(context.Background(), NewState(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, err := store.Update(context.Background(), id, func(*State) error { return nil }); err != nil {
		t.Fatalf("update before expiry: %v", err)
	}

	// Update refreshed the TTL.
	now = now.Add(45 * time.Second)
	if _, err := store.Load(context.Background(), id); err != nil {
		t.Fatalf("load after refresh: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Load(context.Background(), id); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("err=%v want ErrFlowNotFound", err)
	}
}

func TestRedisStoreExpiresFlows(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	ctx := context.Background()

	id, err := store.Create(ctx, NewState(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("test:flow:" + id) {
		t.Fatalf("expected key test:flow:%s", id)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Load(ctx, id); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("err=%v want ErrFlowNotFound", err)
	}
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	if err := mr.Set("test:flow:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(context.Background(), "bad"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err=%v want ErrStoreUnavailable", err)
	}
}
