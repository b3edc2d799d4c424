package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ggoodman/coffeeshop-go/drinks"
	"github.com/ggoodman/coffeeshop-go/internal/config"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("want %q got %q", version, out.String())
	}
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()
	latte := drinks.Drink{Title: "latte", Recipe: []drinks.Ingredient{{Name: "milk", Color: "white", Parts: 1}}}

	t.Run("memory", func(t *testing.T) {
		b, err := openBackends(ctx, config.Config{Store: config.StoreMemory, MemoryMaxItems: 16})
		if err != nil {
			t.Fatalf("openBackends: %v", err)
		}
		defer b.close()
		if b.keyCache == nil {
			t.Fatalf("missing key cache")
		}
		if _, err := b.drinks.Create(ctx, latte); err != nil {
			t.Fatalf("create: %v", err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, err := openBackends(ctx, config.Config{Store: config.StoreRedis, RedisAddr: mr.Addr(), MemoryMaxItems: 16})
		if err != nil {
			t.Fatalf("openBackends: %v", err)
		}
		defer b.close()
		if _, err := b.drinks.Create(ctx, latte); err != nil {
			t.Fatalf("create: %v", err)
		}
		if len(mr.Keys()) == 0 {
			t.Fatalf("want drink written to redis")
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		if _, err := openBackends(ctx, config.Config{Store: config.StoreRedis, RedisAddr: addr}); err == nil {
			t.Fatalf("want ping error")
		}
	})
}
