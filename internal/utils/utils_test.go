package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     int64
		wantErr  bool
	}{
		{"1500", "NGN", 150000, false},
		{"1500.5", "NGN", 150050, false},
		{" 0.01 ", "usd", 1, false},
		{"1200", "JPY", 1200, false},
		{"1.234", "KWD", 1234, false},
		{"0.001", "NGN", 0, true},
		{"12.5", "JPY", 0, true},
		{"0", "NGN", 0, true},
		{"-3", "NGN", 0, true},
		{"abc", "NGN", 0, true},
		{"", "NGN", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in, tt.currency)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("ParseAmount(%q, %s) err = %v, want ErrInvalidAmount", tt.in, tt.currency, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseAmount(%q, %s) = %d, %v; want %d", tt.in, tt.currency, got, err, tt.want)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(150050, "NGN"); got != "1500.50" {
		t.Fatalf("FormatMinor NGN = %q", got)
	}
	if got := FormatMinor(1200, "JPY"); got != "1200" {
		t.Fatalf("FormatMinor JPY = %q", got)
	}
	if got := FormatMinor(5, "USD"); got != "0.05" {
		t.Fatalf("FormatMinor USD = %q", got)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("user-42", RoleAdmin, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	claims, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != "user-42" || claims.Role != RoleAdmin {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := ParseJWT(token, "other-secret"); err == nil {
		t.Fatalf("token accepted with wrong secret")
	}
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateJWT("user-42", "", "secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT(token, "secret"); err == nil {
		t.Fatalf("expired token accepted")
	}
	if _, err := GenerateJWT("", RoleUser, "secret", time.Hour); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("empty subject: err = %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	type view struct{ Balance int64 }
	if err := c.Set(ctx, "k", view{Balance: 7}, time.Minute); err != nil {
		t.Fatal(err)
	}
	var got view
	if ok, err := c.Get(ctx, "k", &got); !ok || err != nil || got.Balance != 7 {
		t.Fatalf("Get = %v, %v, %+v", ok, err, got)
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := c.Get(ctx, "k", &got); ok {
		t.Fatalf("expired entry returned")
	}

	_ = c.Set(ctx, "a", 1, 0)
	_ = c.Delete(ctx, "a")
	var n int
	if ok, _ := c.Get(ctx, "a", &n); ok {
		t.Fatalf("deleted entry returned")
	}
}
