// Package main is the entry point for the ark-operator controller.
//
// This controller manages the lifecycle of ArkCluster custom resources:
// clustered ARK: Survival Ascended dedicated game servers backed by shared
// PVCs, one pod per map, and a rolling-update path onto an idle server
// volume.
//
// Key responsibilities:
//   - ArkCluster stage-checkpoint reconciliation (PVCs, init job, pods/services)
//   - Periodic upstream build id checks and rolling updates
//   - Configuration-change-driven restarts (ConfigMap/Secret watcher)
//   - RCON fan-out for announce/save/shutdown during a restart
//   - Prometheus metrics export for monitoring
//
// Deployment:
//   The controller is designed to run as a Kubernetes Deployment with:
//   - Leader election for high availability
//   - Health and readiness probes
//   - Prometheus metrics endpoint on :8080
//   - Health probes on :8081
//
// Example usage:
//
//	# Run controller with leader election enabled
//	./controller --leader-elect=true
//
//	# Run with custom metrics address
//	./controller --metrics-bind-address=:9090
//
//	# Enable debug logging
//	./controller --zap-log-level=debug
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	uzap "go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/controllers"
	"github.com/AngellusMortis/ark-operator/internal/arkconf"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/config"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
	"github.com/AngellusMortis/ark-operator/internal/rcon"
	"github.com/AngellusMortis/ark-operator/internal/render"
	"github.com/AngellusMortis/ark-operator/internal/restart"
	"github.com/AngellusMortis/ark-operator/internal/size"
	"github.com/AngellusMortis/ark-operator/pkg/events"
	_ "github.com/AngellusMortis/ark-operator/pkg/metrics" // Initialize custom metrics
)

var (
	// scheme defines the runtime scheme used by the controller.
	// It includes standard Kubernetes types and the ArkCluster CRD.
	scheme = runtime.NewScheme()

	// setupLog is the logger used during controller initialization.
	setupLog = ctrl.Log.WithName("setup")
)

// init registers all required schemes with the controller's runtime scheme.
// This must happen before the manager is created to ensure all types are recognized.
func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(arkv1beta1.AddToScheme(scheme))
}

// publisherHandle adapts an *events.Subscriber (constructed after the
// restart coordinator, since its handlers close over the coordinator) into
// the coordinator's ChangePublisher. Set once before the manager starts and
// read-only afterward, so no locking is needed.
type publisherHandle struct {
	sub *events.Subscriber
}

func (h *publisherHandle) PublishClusterChanged(event events.ClusterChangedEvent) error {
	if h.sub == nil {
		return nil
	}
	return h.sub.PublishClusterChanged(event)
}

// main is the entry point for the ark-operator controller.
//
// It performs the following initialization steps:
//  1. Parse command-line flags / environment configuration
//  2. Initialize structured logging with zap
//  3. Create controller manager with leader election
//  4. Register the ArkCluster and configuration-watch reconcilers
//  5. Setup health and readiness probes
//  6. Start the manager and wait for shutdown signal
//
// The controller will exit with code 1 if any initialization step fails.
func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string

	cfg := config.Load()

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	logger, err := uzap.NewProduction()
	if err != nil {
		setupLog.Error(err, "unable to build zap logger")
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,

		HealthProbeBindAddress: probeAddr,

		LeaderElection:   enableLeaderElection,
		LeaderElectionID: "ark-operator.mort.is",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	minPVCSize, err := size.Parse(cfg.MinPVCSize)
	if err != nil {
		setupLog.Error(err, "invalid ARK_OP_MIN_PVC_SIZE, falling back to default", "value", cfg.MinPVCSize)
		minPVCSize = k8sclient.MinPVCSize
	}
	k8s := k8sclient.NewWithMinSize(mgr.GetClient(), minPVCSize)
	composer := arkconf.NewComposer(k8s)
	pool := rcon.NewPool(logger)

	publisher := &publisherHandle{}
	coordinator := restart.NewCoordinator(logger, pool, k8s, publisher, cfg.ControllerID, cfg.RestartWarningLadder)

	if err = (&controllers.ArkClusterReconciler{
		Client:             mgr.GetClient(),
		Scheme:             mgr.GetScheme(),
		K8s:                k8s,
		Composer:           composer,
		Restart:            coordinator,
		BuildCheckInterval: cfg.BuildCheckInterval,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ArkCluster")
		os.Exit(1)
	}

	configWatcher := &controllers.ConfigWatchReconciler{
		Client:   mgr.GetClient(),
		K8s:      k8s,
		Composer: composer,
		Restart:  coordinator,
	}
	if err = configWatcher.SetupWithManagerForConfigMaps(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ConfigWatch/ConfigMaps")
		os.Exit(1)
	}
	if err = configWatcher.SetupWithManagerForSecrets(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ConfigWatch/Secrets")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("initializing NATS event subscriber", "url", cfg.NATSURL)
	subscriber, err := events.NewSubscriber(events.Config{
		URL:      cfg.NATSURL,
		User:     cfg.NATSUser,
		Password: cfg.NATSPassword,
	}, eventHandlers(mgr.GetClient(), k8s, composer, pool, coordinator), cfg.ControllerID)

	if err != nil {
		setupLog.Error(err, "unable to create NATS subscriber")
		setupLog.Info("continuing without NATS - controller will only watch CRDs directly")
	} else {
		publisher.sub = subscriber

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		defer subscriber.Close()

		go func() {
			if err := subscriber.Start(ctx); err != nil {
				setupLog.Error(err, "NATS subscriber error")
			}
		}()
		setupLog.Info("NATS event subscriber started", "controller_id", cfg.ControllerID)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

// eventHandlers wires the NATS-driven operator requests (restart, suspend,
// resume, direct RCON) to the same k8s client/composer/coordinator the
// reconcilers use, so an external API drives the exact code paths a
// reconciliation would.
func eventHandlers(c client.Reader, k8s k8sclient.Client, composer *arkconf.Composer, pool *rcon.Pool, coordinator *restart.Coordinator) events.Handlers {
	getCluster := func(ctx context.Context, namespace, name string) (*arkv1beta1.ArkCluster, error) {
		var cluster arkv1beta1.ArkCluster
		if err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &cluster); err != nil {
			return nil, err
		}
		return &cluster, nil
	}

	return events.Handlers{
		OnRestartRequest: func(ctx context.Context, event events.RestartRequestEvent) error {
			cluster, err := getCluster(ctx, event.Namespace, event.Cluster)
			if err != nil {
				return err
			}
			mapIDs := event.Maps
			if len(mapIDs) == 0 {
				if mapIDs, err = activeMapIDsFor(cluster); err != nil {
					return err
				}
			}
			servers := arkmap.Servers(mapIDs, cluster.Spec.Server.GamePortStart, cluster.Spec.Server.RCONPortStart)
			envs := map[string]map[string]string{}
			for _, s := range servers {
				m, err := composer.GetMapEnvs(ctx, cluster, s.MapID)
				if err != nil {
					return err
				}
				envs[s.MapID] = m
			}
			password, err := rconPasswordFor(ctx, k8s, cluster)
			if err != nil {
				return err
			}
			volumeSuffix := "a"
			if cluster.Status.ActiveVolume == "server-b" {
				volumeSuffix = "b"
			}
			return coordinator.Restart(ctx, restart.Request{
				Cluster:      cluster,
				Servers:      servers,
				Host:         fmt.Sprintf("%s-rcon.%s.svc", cluster.Name, cluster.Namespace),
				RCONPassword: password,
				Envs:         envs,
				ActiveVolume: volumeSuffix,
				Reason:       event.Reason,
				Force:        event.Force,
				Suspend:      event.Suspend,
			})
		},
		OnSuspendRequest: func(ctx context.Context, event events.SuspendRequestEvent) error {
			cluster, err := getCluster(ctx, event.Namespace, event.Cluster)
			if err != nil {
				return err
			}
			return k8s.PatchClusterSuspend(ctx, cluster, event.Maps, true)
		},
		OnResumeRequest: func(ctx context.Context, event events.ResumeRequestEvent) error {
			cluster, err := getCluster(ctx, event.Namespace, event.Cluster)
			if err != nil {
				return err
			}
			return k8s.PatchClusterSuspend(ctx, cluster, event.Maps, false)
		},
		OnRCONRequest: func(ctx context.Context, event events.RCONRequestEvent) error {
			cluster, err := getCluster(ctx, event.Namespace, event.Cluster)
			if err != nil {
				return err
			}
			mapIDs := event.Maps
			if len(mapIDs) == 0 {
				var err error
				if mapIDs, err = activeMapIDsFor(cluster); err != nil {
					return err
				}
			}
			servers := arkmap.Servers(mapIDs, cluster.Spec.Server.GamePortStart, cluster.Spec.Server.RCONPortStart)
			host := fmt.Sprintf("%s-rcon.%s.svc", cluster.Name, cluster.Namespace)
			targets := make([]rcon.Target, len(servers))
			for i, s := range servers {
				targets[i] = rcon.Target{MapID: s.MapID, Host: host, Port: int(s.RCONPort), Namespace: cluster.Namespace}
			}
			password, err := rconPasswordFor(ctx, k8s, cluster)
			if err != nil {
				return err
			}
			_, err = pool.SendAll(ctx, event.Command, password, targets, false, false)
			return err
		},
	}
}

// activeMapIDsFor mirrors the controllers package's unexported activeMapIDs
// for NATS-driven requests with no explicit map list: every map in the
// selector minus server.suspend.
func activeMapIDsFor(cluster *arkv1beta1.ArkCluster) ([]string, error) {
	universe := append([]string{arkmap.ClubMap}, arkmap.ALLOfficial...)
	allIDs, err := arkmap.Expand(cluster.Spec.Server.Maps, universe)
	if err != nil {
		return nil, err
	}
	suspended := map[string]struct{}{}
	for _, id := range cluster.Spec.Server.Suspend {
		suspended[id] = struct{}{}
	}
	active := make([]string, 0, len(allIDs))
	for _, id := range allIDs {
		if _, skip := suspended[id]; !skip {
			active = append(active, id)
		}
	}
	return active, nil
}

func rconPasswordFor(ctx context.Context, k8s k8sclient.Client, cluster *arkv1beta1.ArkCluster) (string, error) {
	secret, err := k8s.GetSecret(ctx, cluster.Namespace, fmt.Sprintf("%s-cluster-secrets", cluster.Name))
	if err != nil {
		return "", err
	}
	return string(secret.Data[render.RCONPasswordKey]), nil
}
