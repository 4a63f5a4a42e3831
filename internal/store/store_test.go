package store

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	rec := DeviceRecord{
		DeviceID:  "dev-1",
		AppID:     "com.example.app",
		Platform:  "apple",
		Token:     "aabbcc",
		Silent:    true,
		UserAgent: "Sylk/3.0",
	}
	if err := s.Add(ctx, "alice@example.com", rec); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	got, err := s.Get(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	want := map[string]DeviceRecord{"com.example.app-dev-1": rec}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get() = %v, want %v", got, want)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	rec := DeviceRecord{DeviceID: "dev-1", AppID: "app", Platform: "firebase", Token: "tok"}
	if err := s.Add(ctx, "bob@example.com", rec); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(ctx, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["app-dev-1"].Token != "tok" {
		t.Errorf("reloaded records = %v", got)
	}
}

func TestFileStoreGetUnknownAccount(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Get() = %v, want empty map", got)
	}
}

func TestFileStoreRemove(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec := DeviceRecord{DeviceID: "dev-1", AppID: "app", Platform: "apple", Token: "tok"}
	if err := s.Add(ctx, "carol@example.com", rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "carol@example.com", "app", "dev-1"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	got, err := s.Get(ctx, "carol@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("records after remove = %v", got)
	}

	// Removing what is already gone must not fail.
	if err := s.Remove(ctx, "carol@example.com", "app", "dev-1"); err != nil {
		t.Errorf("second Remove() error: %v", err)
	}
	if err := s.Remove(ctx, "nobody@example.com", "app", "dev-1"); err != nil {
		t.Errorf("Remove() for unknown account error: %v", err)
	}
}

func TestSplitCombinedToken(t *testing.T) {
	tests := []struct {
		name           string
		rec            DeviceRecord
		wantToken      string
		wantBackground string
	}{
		{
			name:           "hash separated",
			rec:            DeviceRecord{Platform: "apple", Token: "voiptoken#bgtoken"},
			wantToken:      "voiptoken",
			wantBackground: "bgtoken",
		},
		{
			name:           "plain apple token",
			rec:            DeviceRecord{Platform: "apple", Token: "aabbccdd"},
			wantToken:      "aabbccdd",
			wantBackground: "",
		},
		{
			name:           "dashes are not a separator",
			rec:            DeviceRecord{Platform: "apple", Token: "voiptoken-bgtoken"},
			wantToken:      "voiptoken-bgtoken",
			wantBackground: "",
		},
		{
			name:           "firebase token never split",
			rec:            DeviceRecord{Platform: "firebase", Token: "fcm#token"},
			wantToken:      "fcm#token",
			wantBackground: "",
		},
		{
			name:           "too many separators untouched",
			rec:            DeviceRecord{Platform: "apple", Token: "a#b#c"},
			wantToken:      "a#b#c",
			wantBackground: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCombinedToken(tt.rec)
			if got.Token != tt.wantToken || got.BackgroundToken != tt.wantBackground {
				t.Errorf("splitCombinedToken() = (%q, %q), want (%q, %q)",
					got.Token, got.BackgroundToken, tt.wantToken, tt.wantBackground)
			}
		})
	}
}

func TestFileStoreAddSplitsCombinedToken(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec := DeviceRecord{DeviceID: "dev-1", AppID: "app", Platform: "apple", Token: "voip#background"}
	if err := s.Add(ctx, "dave@example.com", rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "dave@example.com")
	if err != nil {
		t.Fatal(err)
	}
	stored := got["app-dev-1"]
	if stored.Token != "voip" || stored.BackgroundToken != "background" {
		t.Errorf("stored tokens = (%q, %q)", stored.Token, stored.BackgroundToken)
	}
}

func TestFileStoreRemoveAccount(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, dev := range []string{"dev-1", "dev-2"} {
		rec := DeviceRecord{DeviceID: dev, AppID: "app", Platform: "firebase", Token: "tok-" + dev}
		if err := s.Add(ctx, "erin@example.com", rec); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.RemoveAccount(ctx, "erin@example.com"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "erin@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("account still has %d records after removal", len(got))
	}

	// Removing an account that is not there is not an error.
	if err := s.RemoveAccount(ctx, "nobody@example.com"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFileStoreCount(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if count, _ := s.Count(ctx); count != 0 {
		t.Errorf("empty store count = %d", count)
	}

	for i, account := range []string{"a@example.com", "a@example.com", "b@example.com"} {
		rec := DeviceRecord{DeviceID: fmt.Sprintf("dev-%d", i), AppID: "app", Platform: "firebase", Token: "tok"}
		if err := s.Add(ctx, account, rec); err != nil {
			t.Fatal(err)
		}
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
