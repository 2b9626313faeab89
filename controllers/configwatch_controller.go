// CONFIGURATION WATCHER
//
// ConfigWatchReconciler watches the ConfigMaps and Secrets an ArkCluster's
// owner reads at render time. A change to any of them does not, by itself,
// recreate anything -- a pod only picks up new env vars on its next create --
// so this reconciler's job is to notice the diff and ask the restart
// coordinator to do that recreate, the same way the build-id check does for
// an upstream update.
package controllers

import (
	"context"
	"fmt"
	"regexp"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkconf"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
	"github.com/AngellusMortis/ark-operator/internal/restart"
)

const defaultConfigDebounce = 5 * time.Second

// configNamePattern matches the rendered ConfigMap/Secret names an
// ArkCluster owns: {instance}-global-ark-config, {instance}-global-envs,
// {instance}-map-envs-{mapSlug}, {instance}-map-config-{mapSlug}, and
// {instance}-cluster-secrets. Capture groups 2/3 hold the map slug when the
// name binds to one map specifically.
var configNamePattern = regexp.MustCompile(`^(.+)-(?:global-ark-config|global-envs|map-envs-([a-z0-9-]+)|map-config-([a-z0-9-]+)|cluster-secrets)$`)

// ConfigWatchReconciler implements §4.11: on a matching ConfigMap/Secret
// change it debounces, resolves the owning cluster, and triggers a
// "configuration update" restart scoped to the affected map(s).
type ConfigWatchReconciler struct {
	client.Client

	K8s              k8sclient.Client
	Composer         *arkconf.Composer
	Restart          *restart.Coordinator
	DebounceInterval time.Duration
}

func (r *ConfigWatchReconciler) debounce() time.Duration {
	if r.DebounceInterval <= 0 {
		return defaultConfigDebounce
	}
	return r.DebounceInterval
}

// Reconcile is shared by both the ConfigMap and Secret watches registered in
// SetupWithManager; req.Name is matched against configNamePattern regardless
// of which kind triggered it.
func (r *ConfigWatchReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	instance, mapSlug, ok := parseConfigName(req.Name)
	if !ok {
		return ctrl.Result{}, nil
	}

	select {
	case <-time.After(r.debounce()):
	case <-ctx.Done():
		return ctrl.Result{}, ctx.Err()
	}

	logger := log.FromContext(ctx)

	var cluster arkv1beta1.ArkCluster
	if err := r.Get(ctx, client.ObjectKey{Namespace: req.Namespace, Name: instance}, &cluster); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("config change for untracked instance, ignoring", "instance", instance)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	activeIDs, err := activeMapIDs(&cluster)
	if err != nil {
		return ctrl.Result{}, err
	}

	targetIDs := activeIDs
	if mapSlug != "" {
		targetIDs = nil
		for _, id := range activeIDs {
			if arkmap.Slug(id) == mapSlug {
				targetIDs = []string{id}
				break
			}
		}
		if targetIDs == nil {
			// The configmap names a map that isn't active (suspended, or
			// dropped from the selector); nothing to restart.
			return ctrl.Result{}, nil
		}
	}

	servers := arkmap.Servers(targetIDs, cluster.Spec.Server.GamePortStart, cluster.Spec.Server.RCONPortStart)
	envs := map[string]map[string]string{}
	for _, s := range servers {
		m, err := r.Composer.GetMapEnvs(ctx, &cluster, s.MapID)
		if err != nil {
			return ctrl.Result{}, err
		}
		envs[s.MapID] = m
	}

	volumeSuffix := "a"
	if cluster.Status.ActiveVolume == "server-b" {
		volumeSuffix = "b"
	}

	password, err := clusterRCONPassword(ctx, r.K8s, &cluster)
	if err != nil {
		return ctrl.Result{}, err
	}

	err = r.Restart.Restart(ctx, restart.Request{
		Cluster:      &cluster,
		Servers:      servers,
		Host:         fmt.Sprintf("%s-rcon.%s.svc", cluster.Name, cluster.Namespace),
		RCONPassword: password,
		Envs:         envs,
		ActiveVolume: volumeSuffix,
		Reason:       "configuration update",
	})
	if err != nil {
		logger.Error(err, "configuration-driven restart failed to start", "cluster", cluster.Name)
	}
	return ctrl.Result{}, nil
}

// parseConfigName reports whether name matches one of the rendered
// ConfigMap/Secret names an ArkCluster owns, returning the owning instance
// name and, if the name binds to one map, that map's slug.
func parseConfigName(name string) (instance, mapSlug string, ok bool) {
	m := configNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	slug := m[2]
	if slug == "" {
		slug = m[3]
	}
	return m[1], slug, true
}

// SetupWithManagerForConfigMaps registers the watcher against ConfigMap
// events.
func (r *ConfigWatchReconciler) SetupWithManagerForConfigMaps(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("configwatch-configmaps").
		For(&corev1.ConfigMap{}).
		Complete(r)
}

// SetupWithManagerForSecrets registers the watcher against Secret events.
func (r *ConfigWatchReconciler) SetupWithManagerForSecrets(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("configwatch-secrets").
		For(&corev1.Secret{}).
		Complete(r)
}
