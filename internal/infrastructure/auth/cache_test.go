package auth

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func testCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := NewCache(capacity, ManagerConfig{Region: "us-east-1"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

func TestCacheReturnsSameManagerForSameToken(t *testing.T) {
	c := testCache(t, 4)

	a, err := c.GetOrCreate("rt-1", "", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := c.GetOrCreate("rt-1", "", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Error("second lookup created a new manager")
	}
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := testCache(t, 2)

	if _, err := c.GetOrCreate("rt-a", "", ""); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := c.GetOrCreate("rt-b", "", ""); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	// Touch rt-a so rt-b becomes least recently used.
	if _, err := c.GetOrCreate("rt-a", "", ""); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := c.GetOrCreate("rt-c", "", ""); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if c.Len() != 2 {
		t.Errorf("cache len = %d, want 2", c.Len())
	}
	if !c.Contains("rt-a") {
		t.Error("rt-a was evicted despite being recently used")
	}
	if c.Contains("rt-b") {
		t.Error("rt-b should have been evicted")
	}
	if !c.Contains("rt-c") {
		t.Error("rt-c missing after insert")
	}
}

func TestCacheBoundedUnderChurn(t *testing.T) {
	c := testCache(t, 8)

	for i := 0; i < 50; i++ {
		if _, err := c.GetOrCreate(fmt.Sprintf("rt-%d", i), "", ""); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}
	if c.Len() != 8 {
		t.Errorf("cache len = %d, want capacity 8", c.Len())
	}
}

func TestCacheTenantOverrides(t *testing.T) {
	c := testCache(t, 4)

	m, err := c.GetOrCreate("rt-eu", "eu-west-1", "arn:aws:codewhisperer:eu-west-1:0:profile/x")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if m.Region() != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", m.Region())
	}
	if m.ProfileArn() != "arn:aws:codewhisperer:eu-west-1:0:profile/x" {
		t.Errorf("profile arn = %q", m.ProfileArn())
	}
}
