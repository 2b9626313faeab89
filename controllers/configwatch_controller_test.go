package controllers

import "testing"

func TestParseConfigName(t *testing.T) {
	cases := []struct {
		name         string
		wantInstance string
		wantSlug     string
		wantOK       bool
	}{
		{"my-cluster-global-ark-config", "my-cluster", "", true},
		{"my-cluster-global-envs", "my-cluster", "", true},
		{"my-cluster-cluster-secrets", "my-cluster", "", true},
		{"my-cluster-map-envs-theisland", "my-cluster", "theisland", true},
		{"my-cluster-map-config-thecenter", "my-cluster", "thecenter", true},
		{"multi-part-name-map-envs-bobs-missions", "multi-part-name", "bobs-missions", true},
		{"unrelated-configmap", "", "", false},
		{"my-cluster-global-ark-config-extra", "", "", false},
	}

	for _, tc := range cases {
		instance, slug, ok := parseConfigName(tc.name)
		if ok != tc.wantOK {
			t.Fatalf("parseConfigName(%q) ok = %v, want %v", tc.name, ok, tc.wantOK)
		}
		if !ok {
			continue
		}
		if instance != tc.wantInstance || slug != tc.wantSlug {
			t.Fatalf("parseConfigName(%q) = (%q, %q), want (%q, %q)",
				tc.name, instance, slug, tc.wantInstance, tc.wantSlug)
		}
	}
}
