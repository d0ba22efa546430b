package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/storage/storagetest"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, WithPrefix("acct")), mr
}

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) goAccounts.DatabaseInterface {
		store, _ := newStoreTest(t)
		return store
	})
}

func TestKeyLayout(t *testing.T) {
	store, mr := newStoreTest(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, goAccounts.CreateUserInput{Username: "alice", Email: "Alice@Example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	for _, key := range []string{"acct:user:" + id, "acct:user:email:alice@example.com", "acct:user:username:alice"} {
		if !mr.Exists(key) {
			t.Fatalf("expected key %q", key)
		}
	}

	sid, err := store.CreateSession(ctx, id, "tok", goAccounts.ConnectionInfo{IP: "10.0.0.1"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if got := mr.HGet("acct:session:"+sid, "valid"); got != "1" {
		t.Fatalf("valid field = %q, want 1", got)
	}
	if got, _ := mr.Get("acct:session:token:tok"); got != sid {
		t.Fatalf("token index = %q, want %q", got, sid)
	}
	if ok, _ := mr.SIsMember("acct:user:sessions:"+id, sid); !ok {
		t.Fatal("expected session in user set")
	}
}

func TestRenameReleasesOldUsername(t *testing.T) {
	store, mr := newStoreTest(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, goAccounts.CreateUserInput{Username: "old"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.SetUsername(ctx, id, "new"); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	if mr.Exists("acct:user:username:old") {
		t.Fatal("old username index should be removed")
	}
	if _, err := store.CreateUser(ctx, goAccounts.CreateUserInput{Username: "old"}); err != nil {
		t.Fatalf("old username should be free again: %v", err)
	}
}

func TestStaleIndexReadsAsMissing(t *testing.T) {
	store, mr := newStoreTest(t)
	ctx := context.Background()

	if err := mr.Set("acct:user:email:ghost@example.com", "no-such-user"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	u, err := store.FindUserByEmail(ctx, "ghost@example.com")
	if err != nil || u != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", u, err)
	}
}

func TestConcurrentAddEmailHasOneOwner(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c", "d"} {
		id, err := store.CreateUser(ctx, goAccounts.CreateUserInput{Username: name})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		ids = append(ids, id)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		won   int
		taken int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := store.AddEmail(ctx, id, "shared@example.com", false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, goAccounts.ErrEmailTaken):
				taken++
			default:
				t.Errorf("AddEmail: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if won != 1 || taken != len(ids)-1 {
		t.Fatalf("won=%d taken=%d, want exactly one owner", won, taken)
	}
}

func TestUnavailableIsWrapped(t *testing.T) {
	store, mr := newStoreTest(t)
	mr.Close()

	_, err := store.FindUserByID(context.Background(), "any")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
