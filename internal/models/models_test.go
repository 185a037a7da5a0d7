package models

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"bilibili", ProviderBilibili, false},
		{"NetEase", ProviderNetease, false},
		{" youtube ", ProviderYouTube, false},
		{"spotify", ProviderSpotify, false},
		{"soundcloud", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseProvider(%q) err = %v, want ErrInvalidInput", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseProvider(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseProvidersDeduplicates(t *testing.T) {
	got, err := ParseProviders([]string{"netease", "", "bilibili", "netease"})
	if err != nil {
		t.Fatal(err)
	}
	want := []Provider{ProviderNetease, ProviderBilibili}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandQueryTypes(t *testing.T) {
	tests := []struct {
		name string
		in   []QueryType
		want []QueryType
	}{
		{"all", []QueryType{QueryAll}, []QueryType{QueryTrack, QueryArtist, QueryCollection}},
		{"all with duplicate", []QueryType{QueryCollection, QueryAll}, []QueryType{QueryCollection, QueryTrack, QueryArtist}},
		{"single", []QueryType{QueryArtist}, []QueryType{QueryArtist}},
		{"empty", nil, []QueryType{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandQueryTypes(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultItemJSON(t *testing.T) {
	cover := "https://img.example/cover.jpg"
	item := CollectionItem(Collection{ID: "c1", Name: "Mix", Cover: &cover, Artists: []Artist{{ID: "a", Name: "A"}}})

	b, err := json.Marshal(item)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["kind"] != "collection" {
		t.Fatalf("kind = %v", raw["kind"])
	}
	if _, ok := raw["track"]; ok {
		t.Fatal("unexpected track field")
	}

	var back ResultItem
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	c, ok := back.Collection()
	if !ok || c.ID != "c1" || *c.Cover != cover {
		t.Fatalf("decoded %+v", c)
	}

	if err := json.Unmarshal([]byte(`{"kind":"track"}`), &back); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	err := Upstream(ProviderNetease, "suggest", io.ErrUnexpectedEOF)

	if !errors.Is(err, ErrUpstreamFailure) {
		t.Error("kind not reachable")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause not reachable")
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Provider != ProviderNetease {
		t.Errorf("errors.As = %+v", perr)
	}
	if got := err.Error(); got != "netease suggest: upstream failure: unexpected EOF" {
		t.Errorf("Error() = %q", got)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrProviderNotEnabled, http.StatusNotFound},
		{Unsupported(ProviderSpotify, "stream"), http.StatusNotImplemented},
		{InvalidID(ProviderBilibili, "stream", "x"), http.StatusBadRequest},
		{Malformed(ProviderYouTube, "search", io.EOF), http.StatusBadGateway},
		{ErrConfiguration, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := MapErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("MapErrorToHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}

	resp := NewErrorResponse(Unsupported(ProviderSpotify, "stream"))
	if resp.Error.Provider != ProviderSpotify || resp.Error.Code != http.StatusNotImplemented {
		t.Errorf("response = %+v", resp)
	}
}
