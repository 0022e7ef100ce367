package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCache_SetGetDelete(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "caps:acct_1", []byte(`{"active":true}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "caps:acct_1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if string(val) != `{"active":true}` {
		t.Fatalf("got %s", val)
	}

	if err := c.Delete(ctx, "caps:acct_1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "caps:acct_1"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestCache_SetCopiesValue(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	buf := []byte("secret-a")
	_ = c.Set(ctx, "k", buf, time.Minute)
	buf[7] = 'b'

	val, _, _ := c.Get(ctx, "k")
	if string(val) != "secret-a" {
		t.Fatalf("cached value changed with caller buffer: %s", val)
	}
}

func TestCache_Expires(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("v"), 50*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatal("expected entry to expire")
	}
}
