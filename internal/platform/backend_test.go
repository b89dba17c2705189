package platform

import "testing"

func TestParseChange(t *testing.T) {
	tests := map[string]ChangeKind{
		"focus":           ChangeFocus,
		"new":             ChangeNew,
		"close":           ChangeClose,
		"move":            ChangeMove,
		"floating":        ChangeFloating,
		"fullscreen_mode": ChangeFullscreen,
		"title":           ChangeOther,
		"urgent":          ChangeOther,
		"":                ChangeOther,
	}
	for in, want := range tests {
		if got := ParseChange(in); got != want {
			t.Fatalf("ParseChange(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTriggerSet(t *testing.T) {
	set, err := NewTriggerSet([]string{"focus", " Close "})
	if err != nil {
		t.Fatalf("NewTriggerSet() error: %v", err)
	}
	if !set.Has(ChangeFocus) || !set.Has(ChangeClose) {
		t.Fatal("expected focus and close to trigger")
	}
	if set.Has(ChangeOther) || set.Has(ChangeNew) {
		t.Fatal("unexpected trigger")
	}
	if !set.Has(ChangeRescan) {
		t.Fatal("rescan must always trigger")
	}
	if got := set.Names(); len(got) != 2 || got[0] != "close" || got[1] != "focus" {
		t.Fatalf("Names() = %v", got)
	}

	if _, err := NewTriggerSet([]string{"rescan"}); err == nil {
		t.Fatal("rescan is not a configurable trigger")
	}
	if _, err := NewTriggerSet([]string{"title"}); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}

func TestDefaultTriggersAreValid(t *testing.T) {
	set, err := NewTriggerSet(DefaultTriggers())
	if err != nil {
		t.Fatalf("default triggers invalid: %v", err)
	}
	if set.Has(ChangeOther) {
		t.Fatal("default triggers must not include other")
	}
}
