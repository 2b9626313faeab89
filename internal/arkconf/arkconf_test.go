package arkconf_test

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkconf"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	if err := arkv1beta1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	return scheme
}

func testCluster() *arkv1beta1.ArkCluster {
	return &arkv1beta1.ArkCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "demo", Namespace: "ark"},
		Spec: arkv1beta1.ArkClusterSpec{
			GlobalSettings: arkv1beta1.GlobalSettings{
				SessionNameFormat: "ASA - {map}",
				MaxPlayers:        70,
				ClusterID:         "demo-cluster",
				Battleye:          true,
				AllowedPlatforms:  []string{"ALL"},
				Mods:              []string{"123", "1234"},
			},
		},
	}
}

// TestGetMapEnvsScenarioD mirrors the spec's Scenario D: a global configmap
// overrides ARK_SERVER_MODS, but on the club map that override is stripped
// in favor of the derived value, and no per-map configmap exists.
func TestGetMapEnvsScenarioD(t *testing.T) {
	globalCM := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "demo-global-envs", Namespace: "ark"},
		Data: map[string]string{
			"ARK_SERVER_MODS": "456,234",
		},
	}
	c := k8sclient.New(fakeclient.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(globalCM).Build())
	composer := arkconf.NewComposer(c)

	envs, err := composer.GetMapEnvs(context.Background(), testCluster(), "BobsMissions_WP")
	if err != nil {
		t.Fatalf("GetMapEnvs: %v", err)
	}

	if _, ok := envs["ARK_SERVER_PARAMS"]; ok {
		t.Fatalf("expected ARK_SERVER_PARAMS stripped on club map, got %q", envs["ARK_SERVER_PARAMS"])
	}
	if _, ok := envs["ARK_SERVER_OPTS"]; ok {
		t.Fatalf("expected ARK_SERVER_OPTS stripped on club map, got %q", envs["ARK_SERVER_OPTS"])
	}
	if v, ok := envs["ARK_SERVER_MODS"]; ok {
		t.Fatalf("expected ARK_SERVER_MODS stripped on club map, got %q", v)
	}
	if envs["ARK_SERVER_SESSION_NAME"] != "ASA - Club Ark" {
		t.Fatalf("session name = %q, want %q", envs["ARK_SERVER_SESSION_NAME"], "ASA - Club Ark")
	}
	if envs["ARK_SERVER_MAX_PLAYERS"] != "70" {
		t.Fatalf("max players = %q, want 70", envs["ARK_SERVER_MAX_PLAYERS"])
	}
}

func TestGetMapEnvsOverlayOrder(t *testing.T) {
	globalCM := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "demo-global-envs", Namespace: "ark"},
		Data:       map[string]string{"ARK_SERVER_MAX_PLAYERS": "40"},
	}
	perMapCM := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "demo-map-envs-" + arkmap.Slug("TheIsland_WP"), Namespace: "ark"},
		Data:       map[string]string{"ARK_SERVER_MAX_PLAYERS": "10"},
	}
	c := k8sclient.New(fakeclient.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(globalCM, perMapCM).Build())
	composer := arkconf.NewComposer(c)

	envs, err := composer.GetMapEnvs(context.Background(), testCluster(), "TheIsland_WP")
	if err != nil {
		t.Fatalf("GetMapEnvs: %v", err)
	}

	if envs["ARK_SERVER_MAX_PLAYERS"] != "10" {
		t.Fatalf("per-map overlay should win: max players = %q, want 10", envs["ARK_SERVER_MAX_PLAYERS"])
	}
}

func TestGetMapEnvsMissingConfigMapsTreatedAsEmpty(t *testing.T) {
	c := k8sclient.New(fakeclient.NewClientBuilder().WithScheme(newScheme(t)).Build())
	composer := arkconf.NewComposer(c)

	envs, err := composer.GetMapEnvs(context.Background(), testCluster(), "TheIsland_WP")
	if err != nil {
		t.Fatalf("GetMapEnvs: %v", err)
	}
	if envs["ARK_SERVER_MAX_PLAYERS"] != "70" {
		t.Fatalf("derived value should survive when configmaps are absent: got %q", envs["ARK_SERVER_MAX_PLAYERS"])
	}
	if envs["ARK_SERVER_MODS"] != "123,1234" {
		t.Fatalf("derived mods should survive when configmaps are absent: got %q", envs["ARK_SERVER_MODS"])
	}
}

func TestCheckManagedCollision(t *testing.T) {
	if err := arkconf.CheckManagedCollision([]string{"SessionName=foo"}, nil); err == nil {
		t.Fatal("expected collision error for reserved parameter")
	}
	if err := arkconf.CheckManagedCollision(nil, []string{"clusterid=foo"}); err == nil {
		t.Fatal("expected collision error for reserved option")
	}
	if err := arkconf.CheckManagedCollision([]string{"CustomParam=1"}, []string{"CustomOpt=1"}); err != nil {
		t.Fatalf("unexpected collision error: %v", err)
	}
}
