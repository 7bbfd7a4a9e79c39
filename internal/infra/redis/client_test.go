package redis

import (
	"strings"
	"testing"
)

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(Config{URL: "localhost:6379"})
	if err == nil {
		t.Fatal("Expected error for URL without scheme")
	}
	if !strings.Contains(err.Error(), "failed to parse redis URL") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestBudgetKey(t *testing.T) {
	if got := budgetKey("orders"); got != "retry_budget:orders" {
		t.Errorf("budgetKey = %q", got)
	}
}
