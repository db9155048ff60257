package pipeline

import (
	"reflect"
	"testing"
)

func TestRemapBookmarksWholeDocument(t *testing.T) {
	entries := []BookmarkEntry{
		{Level: 0, Title: "Ch1", Page: 0},
		{Level: 1, Title: "S1.1", Page: 5},
		{Level: 0, Title: "Ch2", Page: 12},
	}
	got := RemapBookmarks(entries, 1, 30)
	want := []BookmarkEntry{
		{Level: 0, Title: "Ch1", Page: 1},
		{Level: 1, Title: "S1.1", Page: 6},
		{Level: 0, Title: "Ch2", Page: 13},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RemapBookmarks = %#v, want %#v", got, want)
	}
	if entries[0].Page != 0 {
		t.Fatal("input entries were modified")
	}
}

func TestRemapBookmarksWindow(t *testing.T) {
	entries := []BookmarkEntry{
		{Level: 0, Title: "Before", Page: 8},
		{Level: 0, Title: "First", Page: 9},
		{Level: 1, Title: "Inside", Page: 14},
		{Level: 0, Title: "Last", Page: 19},
		{Level: 0, Title: "After", Page: 20},
	}
	got := RemapBookmarks(entries, 10, 20)
	want := []BookmarkEntry{
		{Level: 0, Title: "First", Page: 1},
		{Level: 1, Title: "Inside", Page: 6},
		{Level: 0, Title: "Last", Page: 11},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RemapBookmarks = %#v, want %#v", got, want)
	}

	again := RemapBookmarks(entries, 10, 20)
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("remap is not repeatable: %#v vs %#v", got, again)
	}
}

func TestRemapBookmarksEmpty(t *testing.T) {
	if got := RemapBookmarks(nil, 1, 10); got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", got)
	}
}
