package idempotency

import (
	"testing"
	"time"
)

func TestKeyDependsOnBothInputs(t *testing.T) {
	a := Key("idem-1", "fp-a")
	b := Key("idem-1", "fp-b")
	c := Key("idem-2", "fp-a")
	if a == b {
		t.Fatal("same idempotency key with different fingerprints should not collide")
	}
	if a == c {
		t.Fatal("different idempotency keys with the same fingerprint should not collide")
	}
}

func TestPutThenGet(t *testing.T) {
	c := New(10, time.Minute)
	key := Key("idem-1", "fp-a")
	entry := Entry{StatusCode: 200, Body: []byte(`{"ok":true}`)}
	c.Put(key, entry)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get should find a just-stored entry")
	}
	if got.StatusCode != 200 || string(got.Body) != `{"ok":true}` {
		t.Fatalf("got %+v, want matching entry", got)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(10, time.Minute)
	_, ok := c.Get(Key("missing", "fp"))
	if ok {
		t.Fatal("Get on an absent key should report false")
	}
}

func TestExpiresAfterTTL(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	key := Key("idem-1", "fp-a")
	c.Put(key, Entry{StatusCode: 200})

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("entry should have expired after its TTL elapsed")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	c.Put("k", Entry{})
	if _, ok := c.Get("k"); ok {
		t.Fatal("a nil cache should always report a miss")
	}
}
