package arkmap_test

import (
	"testing"

	"github.com/AngellusMortis/ark-operator/internal/arkmap"
)

func TestExpandScenarioC(t *testing.T) {
	got, err := arkmap.Expand([]string{"@officialNoClub", "BobsMissions_WP", "Astraeos_WP"}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	want := []string{
		"TheIsland_WP",
		"TheCenter_WP",
		"ScorchedEarth_WP",
		"Aberration_WP",
		"Extinction_WP",
		"BobsMissions_WP",
		"Astraeos_WP",
	}
	if !equalStrings(got, want) {
		t.Fatalf("Expand() = %v, want %v", got, want)
	}
}

func TestExpandNegation(t *testing.T) {
	got, err := arkmap.Expand([]string{"@canonical", "-BobsMissions_WP"}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	for _, id := range got {
		if id == "BobsMissions_WP" {
			t.Fatalf("negated id survived expansion: %v", got)
		}
	}
}

func TestExpandAllRequiresUniverse(t *testing.T) {
	if _, err := arkmap.Expand([]string{"@all"}, nil); err == nil {
		t.Fatal("expected ErrNoUniverse")
	}
	var errNoUniverse arkmap.ErrNoUniverse
	if _, err := arkmap.Expand([]string{"@all"}, []string{"Foo_WP"}); err != nil {
		t.Fatalf("unexpected error with universe supplied: %v", err)
	}
	_ = errNoUniverse
}

func TestExpandDedup(t *testing.T) {
	got, err := arkmap.Expand([]string{"TheIsland_WP", "TheIsland_WP"}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected dedup to 1 entry, got %v", got)
	}
}

func TestSlugLengthInvariant(t *testing.T) {
	ids := append(append([]string{}, arkmap.ALLOfficial...), arkmap.ClubMap, "Astraeos_WP", "M_Something_SOTF")
	for _, id := range ids {
		slug := arkmap.Slug(id)
		if len(slug) > 11 {
			t.Errorf("Slug(%q) = %q, length %d exceeds 11", id, slug, len(slug))
		}
		if slug == "" {
			t.Errorf("Slug(%q) is empty", id)
		}
	}
}

func TestNameKnownMaps(t *testing.T) {
	cases := map[string]string{
		"TheIsland_WP":     "The Island",
		"TheCenter_WP":     "The Center",
		"ScorchedEarth_WP": "Scorched Earth",
		"Aberration_WP":    "Aberration",
		"Extinction_WP":    "Extinction",
		"BobsMissions_WP":  "Club Ark",
	}
	for id, want := range cases {
		if got := arkmap.Name(id); got != want {
			t.Errorf("Name(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestNameDerivedCamelSplit(t *testing.T) {
	got := arkmap.Name("Astraeos_WP")
	if got != "Astraeos" {
		t.Errorf("Name(%q) = %q, want %q", "Astraeos_WP", got, "Astraeos")
	}
}

func TestServersAssignsSequentialPorts(t *testing.T) {
	servers := arkmap.Servers([]string{"TheIsland_WP", "TheCenter_WP"}, 7777, 27020)
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[0].Port != 7777 || servers[0].RCONPort != 27020 {
		t.Errorf("unexpected port assignment for first server: %+v", servers[0])
	}
	if servers[1].Port != 7778 || servers[1].RCONPort != 27021 {
		t.Errorf("unexpected port assignment for second server: %+v", servers[1])
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
