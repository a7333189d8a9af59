package yggdrasil

import (
	"context"
	"errors"
	"testing"
)

type fakeLookup struct {
	nameCalls int
	skinCalls int
	uuid      string
	skin      string
	err       error
}

func (f *fakeLookup) NameToUUID(_ context.Context, _ string) (string, error) {
	f.nameCalls++
	return f.uuid, f.err
}

func (f *fakeLookup) SkinURL(_ context.Context, _ string) (string, error) {
	f.skinCalls++
	return f.skin, f.err
}

func TestIsUUID(t *testing.T) {
	valid := []string{
		"069a79f4-44e9-4726-a5be-fca90e38aaf5",
		"069A79F4-44E9-4726-A5BE-FCA90E38AAF5",
		"deadbeef-0000-1111-2222-333344445555",
	}
	for _, v := range valid {
		if !IsUUID(v) {
			t.Fatalf("expected %q to match UUID form", v)
		}
	}

	invalid := []string{
		"VI_Software",
		"069a79f444e94726a5befca90e38aaf5",
		"069a79f4-44e9-4726-a5be-fca90e38aaf",
		"069a79f4-44e9-4726-a5be-fca90e38aaf5x",
		"gggggggg-44e9-4726-a5be-fca90e38aaf5",
		"",
	}
	for _, v := range invalid {
		if IsUUID(v) {
			t.Fatalf("expected %q to not match UUID form", v)
		}
	}
}

func TestResolvePassesUUIDThroughWithoutLookup(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("must not be called")}
	resolver := NewResolver(lookup)

	uuid := "069a79f4-44e9-4726-a5be-fca90e38aaf5"
	got, err := resolver.Resolve(context.Background(), uuid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != uuid {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if lookup.nameCalls != 0 {
		t.Fatalf("UUID-form input must not invoke the name lookup")
	}
}

func TestResolveInvokesLookupForNames(t *testing.T) {
	lookup := &fakeLookup{uuid: "069a79f4-44e9-4726-a5be-fca90e38aaf5"}
	resolver := NewResolver(lookup)

	got, err := resolver.Resolve(context.Background(), "VI_Software")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != lookup.uuid {
		t.Fatalf("unexpected uuid %q", got)
	}
	if lookup.nameCalls != 1 {
		t.Fatalf("expected exactly one lookup call, got %d", lookup.nameCalls)
	}
}

func TestResolvePropagatesLookupFailure(t *testing.T) {
	lookup := &fakeLookup{err: ErrProfileNotFound}
	resolver := NewResolver(lookup)

	if _, err := resolver.Resolve(context.Background(), "unknownplayer123"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected lookup failure to propagate, got %v", err)
	}
}

func TestSkinURLDelegates(t *testing.T) {
	lookup := &fakeLookup{skin: "https://textures.example.test/skin.png"}
	resolver := NewResolver(lookup)

	got, err := resolver.SkinURL(context.Background(), "some-uuid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != lookup.skin {
		t.Fatalf("unexpected skin URL %q", got)
	}
	if lookup.skinCalls != 1 {
		t.Fatalf("expected one skin lookup, got %d", lookup.skinCalls)
	}
}
