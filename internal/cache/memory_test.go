package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemorySetGet(t *testing.T) {
	c := NewMemory("test")
	ctx := context.Background()

	if err := c.Set(ctx, "estado", "up", 0); err != nil {
		t.Fatalf("Set falló: %v", err)
	}
	got, err := c.Get(ctx, "estado")
	if err != nil {
		t.Fatalf("Get falló: %v", err)
	}
	if got != "up" {
		t.Errorf("Get = %q, esperaba up", got)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	c := NewMemory("")
	_, err := c.Get(context.Background(), "no-existe")
	if !IsNotFound(err) {
		t.Errorf("esperaba ErrNotFound, obtuve %v", err)
	}
}

func TestMemoryTTLExpira(t *testing.T) {
	c := NewMemory("")
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Set falló: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Errorf("la key debería haber expirado, obtuve %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory("")
	ctx := context.Background()

	_ = c.Set(ctx, "k", "v", 0)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete falló: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Error("la key debería haber sido borrada")
	}
	// Borrar algo inexistente no es error.
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete repetido falló: %v", err)
	}
}

func TestMemoryPrefixAisla(t *testing.T) {
	a := NewMemory("a")
	b := NewMemory("b")
	ctx := context.Background()

	_ = a.Set(ctx, "k", "de-a", 0)
	if _, err := b.Get(ctx, "k"); !IsNotFound(err) {
		t.Errorf("prefijos distintos no deben compartir keys, obtuve %v", err)
	}
}
