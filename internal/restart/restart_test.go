package restart_test

import (
	"context"
	"sync"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
	"github.com/AngellusMortis/ark-operator/internal/rcon"
	"github.com/AngellusMortis/ark-operator/internal/restart"
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
			RunAsUser:  1000,
			RunAsGroup: 1000,
		},
	}
}

// fakeSender records every command sent and never fails.
type fakeSender struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeSender) SendAll(_ context.Context, cmd, _ string, targets []rcon.Target, _, _ bool) ([]rcon.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	results := make([]rcon.Result, len(targets))
	for i, t := range targets {
		results[i] = rcon.Result{MapID: t.MapID, Reply: "ok"}
	}
	return results, nil
}

func (f *fakeSender) count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func TestRestartForceSkipsAnnounceAndWait(t *testing.T) {
	sender := &fakeSender{}
	client := k8sclient.New(fakeclient.NewClientBuilder().WithScheme(newScheme(t)).Build())
	coord := restart.NewCoordinator(nil, sender, client, nil, "test-controller", []time.Duration{time.Hour})

	servers := []arkmap.GameServer{{MapID: "TheIsland_WP", Slug: "theisland", Port: 7777, RCONPort: 27020}}
	err := coord.Restart(context.Background(), restart.Request{
		Cluster:      testCluster(),
		Servers:      servers,
		Host:         "127.0.0.1",
		RCONPassword: "secret",
		ActiveVolume: "a",
		Reason:       "manual",
		Force:        true,
	})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if sender.count("SaveWorld") != 1 || sender.count("DoExit") != 1 {
		t.Fatalf("expected SaveWorld and DoExit exactly once each, got %+v", sender.commands)
	}
	for _, c := range sender.commands {
		if c != "SaveWorld" && c != "DoExit" {
			t.Fatalf("force restart should skip the warning ladder, got command %q", c)
		}
	}
}

func TestRestartSecondCallWhileHeldIsNoop(t *testing.T) {
	sender := &fakeSender{}
	client := k8sclient.New(fakeclient.NewClientBuilder().WithScheme(newScheme(t)).Build())
	coord := restart.NewCoordinator(nil, sender, client, nil, "test-controller", []time.Duration{time.Hour})

	cluster := testCluster()
	servers := []arkmap.GameServer{{MapID: "TheIsland_WP", Slug: "theisland", Port: 7777, RCONPort: 27020}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Restart(ctx, restart.Request{
			Cluster: cluster, Servers: servers, Host: "127.0.0.1", RCONPassword: "x",
			ActiveVolume: "a", Reason: "manual", Force: false,
		})
	}()

	time.Sleep(20 * time.Millisecond)
	err := coord.Restart(context.Background(), restart.Request{
		Cluster: cluster, Servers: servers, Host: "127.0.0.1", RCONPassword: "x",
		ActiveVolume: "a", Reason: "concurrent", Force: true,
	})
	if err != nil {
		t.Fatalf("concurrent Restart should return nil, got %v", err)
	}

	cancel()
	wg.Wait()
}

func TestRestartSuspendPatchesSpec(t *testing.T) {
	sender := &fakeSender{}
	cluster := testCluster()
	rawClient := fakeclient.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(cluster).Build()
	client := k8sclient.New(rawClient)
	coord := restart.NewCoordinator(nil, sender, client, nil, "test-controller", []time.Duration{time.Hour})

	servers := []arkmap.GameServer{{MapID: "TheIsland_WP", Slug: "theisland", Port: 7777, RCONPort: 27020}}
	err := coord.Restart(context.Background(), restart.Request{
		Cluster: cluster, Servers: servers, Host: "127.0.0.1", RCONPassword: "x",
		ActiveVolume: "a", Reason: "shutdown", Force: true, Suspend: true,
	})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}

	var fresh arkv1beta1.ArkCluster
	if err := rawClient.Get(context.Background(), ctrlclient.ObjectKey{Namespace: "ark", Name: "demo"}, &fresh); err != nil {
		t.Fatalf("get cluster: %v", err)
	}
	found := false
	for _, id := range fresh.Spec.Server.Suspend {
		if id == "TheIsland_WP" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected TheIsland_WP in spec.server.suspend, got %v", fresh.Spec.Server.Suspend)
	}
}
