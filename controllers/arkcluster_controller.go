// ARKCLUSTER CONTROLLER
//
// ArkClusterReconciler drives an ArkCluster through the stage checkpoints
// persisted in status.stages: SERVER_PVC and DATA_PVC, then INIT_PVC, then
// CREATE. Once every stage has completed once, status.initialized gates the
// reconciler onto the update path, which mirrors the create path minus the
// init job and re-patches pods against the current activeVolume on every
// pass. A cluster in the update path also drives the periodic upstream
// build-id check through the same RequeueAfter chain the hibernation
// reconciler uses for its idle check.
package controllers

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkconf"
	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/buildcheck"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
	"github.com/AngellusMortis/ark-operator/internal/render"
	"github.com/AngellusMortis/ark-operator/internal/restart"
	"github.com/AngellusMortis/ark-operator/internal/size"
	"github.com/AngellusMortis/ark-operator/pkg/metrics"
)

const normalRequeue = 3 * time.Second
const jobWaitRequeue = 30 * time.Second
const maxJobFailures = 3

// universeMaps is the "@all" universe for map selector expansion: every
// official map plus the club map.
var universeMaps = append([]string{arkmap.ClubMap}, arkmap.ALLOfficial...)

// ArkClusterReconciler reconciles an ArkCluster object.
type ArkClusterReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	K8s                k8sclient.Client
	Composer           *arkconf.Composer
	Restart            *restart.Coordinator
	HTTPClient         *http.Client
	BuildCheckInterval time.Duration
}

//+kubebuilder:rbac:groups=mort.is,resources=arkclusters,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=mort.is,resources=arkclusters/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=mort.is,resources=arkclusters/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=persistentvolumeclaims,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch
//+kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=batch,resources=cronjobs,verbs=get;list;watch;create;update;patch;delete

// Reconcile is the main reconciliation loop for ArkCluster.
func (r *ArkClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	start := time.Now()
	defer func() {
		metrics.ObserveReconciliationDuration(req.Namespace, time.Since(start).Seconds())
	}()

	var cluster arkv1beta1.ArkCluster
	if err := r.Get(ctx, req.NamespacedName, &cluster); err != nil {
		if errors.IsNotFound(err) {
			r.Restart.Untrack(req.Name, req.Namespace)
			return ctrl.Result{}, nil
		}
		metrics.RecordReconciliation(req.Namespace, "error")
		return ctrl.Result{}, err
	}

	r.Restart.Track(cluster.Name, cluster.Namespace)

	if !cluster.DeletionTimestamp.IsZero() {
		err := r.reconcileDelete(ctx, &cluster)
		if err != nil {
			metrics.RecordReconciliation(req.Namespace, "error")
			return ctrl.Result{}, err
		}
		metrics.RecordReconciliation(req.Namespace, "success")
		r.Restart.Untrack(cluster.Name, cluster.Namespace)
		return ctrl.Result{}, nil
	}

	if cluster.Status.IsError() {
		logger.Info("cluster in terminal error state, waiting for spec change", "state", cluster.Status.State)
		metrics.RecordClusterState(cluster.Status.State, cluster.Namespace, 1)
		return ctrl.Result{}, nil
	}

	var result ctrl.Result
	var err error
	if !cluster.Status.Initialized {
		result, err = r.reconcileCreate(ctx, &cluster)
	} else {
		result, err = r.reconcileUpdate(ctx, &cluster)
	}

	if err != nil {
		metrics.RecordReconciliation(req.Namespace, "error")
	} else {
		metrics.RecordReconciliation(req.Namespace, "success")
	}
	metrics.RecordClusterState(cluster.Status.State, cluster.Namespace, 1)
	return result, err
}

// reconcileCreate advances the cluster through its stage checkpoints.
func (r *ArkClusterReconciler) reconcileCreate(ctx context.Context, cluster *arkv1beta1.ArkCluster) (ctrl.Result, error) {
	switch {
	case !cluster.Status.IsStageCompleted(arkv1beta1.StageServerPVC) || !cluster.Status.IsStageCompleted(arkv1beta1.StageDataPVC):
		return r.ensurePVCStage(ctx, cluster)
	case !cluster.Status.IsStageCompleted(arkv1beta1.StageInitPVC):
		return r.ensureInitStage(ctx, cluster)
	default:
		return r.ensureCreateStage(ctx, cluster)
	}
}

// reconcileUpdate re-applies PVC sizing and pod/service patches on every
// pass, then performs the periodic build-id check.
func (r *ArkClusterReconciler) reconcileUpdate(ctx context.Context, cluster *arkv1beta1.ArkCluster) (ctrl.Result, error) {
	if err := r.resizePVCs(ctx, cluster); err != nil {
		return r.handleError(ctx, cluster, err)
	}
	if err := r.materializeResources(ctx, cluster); err != nil {
		return r.handleError(ctx, cluster, err)
	}
	return r.checkForUpdate(ctx, cluster)
}

func (r *ArkClusterReconciler) ensurePVCStage(ctx context.Context, cluster *arkv1beta1.ArkCluster) (ctrl.Result, error) {
	if err := r.resizePVCs(ctx, cluster); err != nil {
		return r.handleError(ctx, cluster, err)
	}

	if err := r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{
		"state":  "Initializing PVCs",
		"stages": map[string]bool{string(arkv1beta1.StageServerPVC): true, string(arkv1beta1.StageDataPVC): true},
	}); err != nil {
		return ctrl.Result{}, err
	}
	cluster.Status.MarkStageComplete(arkv1beta1.StageServerPVC)
	cluster.Status.MarkStageComplete(arkv1beta1.StageDataPVC)
	return ctrl.Result{RequeueAfter: normalRequeue}, nil
}

func (r *ArkClusterReconciler) resizePVCs(ctx context.Context, cluster *arkv1beta1.ArkCluster) error {
	serverBytes, err := size.Parse(cluster.Spec.Server.Size)
	if err != nil {
		return err
	}
	dataBytes, err := size.Parse(cluster.Spec.Data.Size)
	if err != nil {
		return err
	}

	serverQty := *resource.NewQuantity(serverBytes, resource.BinarySI)
	dataQty := *resource.NewQuantity(dataBytes, resource.BinarySI)

	if err := r.K8s.EnsurePVC(ctx, render.ServerPVC(cluster, "a", serverQty)); err != nil {
		return err
	}
	if err := r.K8s.EnsurePVC(ctx, render.ServerPVC(cluster, "b", serverQty)); err != nil {
		return err
	}
	if err := r.K8s.EnsurePVC(ctx, render.DataPVC(cluster, dataQty)); err != nil {
		return err
	}
	return nil
}

func (r *ArkClusterReconciler) ensureInitStage(ctx context.Context, cluster *arkv1beta1.ArkCluster) (ctrl.Result, error) {
	jobName := fmt.Sprintf("%s-init", cluster.Name)
	job, err := r.K8s.GetJob(ctx, cluster.Namespace, jobName)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
		specJSON, err := json.Marshal(cluster.Spec)
		if err != nil {
			return ctrl.Result{}, fmt.Errorf("marshal cluster spec: %w", err)
		}
		initJob, err := render.InitJob(cluster, string(specJSON))
		if err != nil {
			return ctrl.Result{}, err
		}
		if err := r.K8s.ForceCreateJob(ctx, initJob); err != nil {
			return r.handleError(ctx, cluster, err)
		}
		_ = r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{"state": "Initializing PVCs"})
		return ctrl.Result{RequeueAfter: jobWaitRequeue}, nil
	}

	if job.Status.Failed >= maxJobFailures {
		_ = r.K8s.DeleteJob(ctx, cluster.Namespace, jobName)
		return r.handleError(ctx, cluster, &arkerrors.JobFailedError{JobName: jobName, Failed: job.Status.Failed})
	}

	if job.Status.CompletionTime == nil {
		return ctrl.Result{RequeueAfter: jobWaitRequeue}, nil
	}

	// The init job installs whatever build is latest at install time; record
	// that as both the active and latest build id rather than reaching into
	// the job's volume from the reconciler process.
	buildID, err := r.latestBuildID(ctx)
	if err != nil {
		return r.handleError(ctx, cluster, arkerrors.NewTransient("read latest build id after init", err))
	}
	_ = r.K8s.DeleteJob(ctx, cluster.Namespace, jobName)

	if err := r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{
		"state":         "Creating Resources",
		"activeVolume":  "server-a",
		"activeBuildid": buildID,
		"latestBuildid": buildID,
		"stages":        map[string]bool{string(arkv1beta1.StageInitPVC): true},
	}); err != nil {
		return ctrl.Result{}, err
	}
	cluster.Status.MarkStageComplete(arkv1beta1.StageInitPVC)
	cluster.Status.ActiveVolume = "server-a"
	return ctrl.Result{RequeueAfter: normalRequeue}, nil
}

func (r *ArkClusterReconciler) ensureCreateStage(ctx context.Context, cluster *arkv1beta1.ArkCluster) (ctrl.Result, error) {
	if err := r.materializeResources(ctx, cluster); err != nil {
		return r.handleError(ctx, cluster, err)
	}

	// JSON merge-patch merges nested objects recursively, so an empty
	// "stages" map would leave every existing key untouched; null each one
	// explicitly to actually clear the checkpoint set.
	if err := r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{
		"state":       "Running",
		"ready":       true,
		"initialized": true,
		"stages": map[string]any{
			string(arkv1beta1.StageServerPVC): nil,
			string(arkv1beta1.StageDataPVC):   nil,
			string(arkv1beta1.StageInitPVC):   nil,
			string(arkv1beta1.StageCreate):    nil,
		},
	}); err != nil {
		return ctrl.Result{}, err
	}
	cluster.Status.Stages = map[arkv1beta1.ClusterStage]bool{}
	cluster.Status.Ready = true
	cluster.Status.Initialized = true
	return ctrl.Result{RequeueAfter: r.buildCheckInterval()}, nil
}

// materializeResources creates (or patches) the cluster secret, one pod per
// active map, and the game/rcon services. Active maps are the expanded
// selector minus server.suspend.
func (r *ArkClusterReconciler) materializeResources(ctx context.Context, cluster *arkv1beta1.ArkCluster) error {
	if err := arkconf.CheckManagedCollision(cluster.Spec.GlobalSettings.Params, cluster.Spec.GlobalSettings.Opts); err != nil {
		return err
	}

	secretName := fmt.Sprintf("%s-cluster-secrets", cluster.Name)
	if _, err := r.K8s.GetSecret(ctx, cluster.Namespace, secretName); err != nil {
		if !arkerrors.IsNotFound(err) {
			return err
		}
		password, err := randomPassword(32)
		if err != nil {
			return err
		}
		if err := r.K8s.ForceCreateSecret(ctx, render.ClusterSecret(cluster, password)); err != nil {
			return err
		}
	}

	activeIDs, err := activeMapIDs(cluster)
	if err != nil {
		return err
	}

	servers := arkmap.Servers(activeIDs, cluster.Spec.Server.GamePortStart, cluster.Spec.Server.RCONPortStart)
	metrics.RecordMapCount(cluster.Name, cluster.Namespace, float64(len(servers)))

	activeVolume := cluster.Status.ActiveVolume
	if activeVolume == "" {
		activeVolume = "server-a"
	}
	volumeSuffix := "a"
	if activeVolume == "server-b" {
		volumeSuffix = "b"
	}

	for _, s := range servers {
		envs, err := r.Composer.GetMapEnvs(ctx, cluster, s.MapID)
		if err != nil {
			return err
		}
		pod := render.ServerPod(cluster, s, volumeSuffix, envs)
		if err := r.K8s.ForceCreatePod(ctx, pod); err != nil {
			return err
		}
	}

	if err := r.K8s.ForceCreateService(ctx, render.GameService(cluster, servers)); err != nil {
		return err
	}
	if err := r.K8s.ForceCreateService(ctx, render.RCONService(cluster, servers)); err != nil {
		return err
	}
	return nil
}

// checkForUpdate compares the latest upstream build id against
// status.activeBuildid and triggers a rolling restart onto the other server
// volume when they diverge, per the periodic build-check timer.
func (r *ArkClusterReconciler) checkForUpdate(ctx context.Context, cluster *arkv1beta1.ArkCluster) (ctrl.Result, error) {
	latest, err := r.latestBuildID(ctx)
	if err != nil {
		metrics.RecordBuildCheck(cluster.Namespace, "error")
		return ctrl.Result{RequeueAfter: r.buildCheckInterval()}, nil
	}
	metrics.RecordBuildCheck(cluster.Namespace, "ok")
	metrics.RecordActiveBuildID(cluster.Name, cluster.Namespace, float64(cluster.Status.ActiveBuildid))

	if !buildcheck.NeedsUpdate(cluster.Status.ActiveBuildid, latest) {
		if latest != cluster.Status.LatestBuildid {
			_ = r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{"latestBuildid": latest})
		}
		return ctrl.Result{RequeueAfter: r.buildCheckInterval()}, nil
	}

	jobName := fmt.Sprintf("%s-update", cluster.Name)
	job, err := r.K8s.GetJob(ctx, cluster.Namespace, jobName)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
		specJSON, err := json.Marshal(cluster.Spec)
		if err != nil {
			return ctrl.Result{}, fmt.Errorf("marshal cluster spec: %w", err)
		}
		updateJob, err := render.UpdateJob(cluster, string(specJSON))
		if err != nil {
			return ctrl.Result{}, err
		}
		if err := r.K8s.ForceCreateJob(ctx, updateJob); err != nil {
			return r.handleError(ctx, cluster, err)
		}
		_ = r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{"state": "Updating Server", "latestBuildid": latest})
		return ctrl.Result{RequeueAfter: jobWaitRequeue}, nil
	}

	if job.Status.Failed >= maxJobFailures {
		_ = r.K8s.DeleteJob(ctx, cluster.Namespace, jobName)
		return r.handleError(ctx, cluster, &arkerrors.JobFailedError{JobName: jobName, Failed: job.Status.Failed})
	}
	if job.Status.CompletionTime == nil {
		return ctrl.Result{RequeueAfter: jobWaitRequeue}, nil
	}

	_ = r.K8s.DeleteJob(ctx, cluster.Namespace, jobName)
	nextVolume := "server-b"
	nextSuffix := "b"
	if cluster.Status.ActiveVolume == "server-b" {
		nextVolume = "server-a"
		nextSuffix = "a"
	}
	if err := r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{
		"state":         "Running",
		"activeBuildid": latest,
		"activeVolume":  nextVolume,
	}); err != nil {
		return ctrl.Result{}, err
	}
	cluster.Status.ActiveBuildid = latest
	cluster.Status.ActiveVolume = nextVolume

	if err := r.triggerUpdateRestart(ctx, cluster, nextSuffix); err != nil {
		log.FromContext(ctx).Error(err, "update restart failed to start")
	}
	return ctrl.Result{RequeueAfter: r.buildCheckInterval()}, nil
}

// triggerUpdateRestart recreates every active map's pod against
// volumeSuffix ("a" or "b") via the restart coordinator.
func (r *ArkClusterReconciler) triggerUpdateRestart(ctx context.Context, cluster *arkv1beta1.ArkCluster, volumeSuffix string) error {
	activeIDs, err := activeMapIDs(cluster)
	if err != nil {
		return err
	}
	servers := arkmap.Servers(activeIDs, cluster.Spec.Server.GamePortStart, cluster.Spec.Server.RCONPortStart)

	envs := map[string]map[string]string{}
	for _, s := range servers {
		m, err := r.Composer.GetMapEnvs(ctx, cluster, s.MapID)
		if err != nil {
			return err
		}
		envs[s.MapID] = m
	}

	host := fmt.Sprintf("%s-rcon.%s.svc", cluster.Name, cluster.Namespace)
	password, err := clusterRCONPassword(ctx, r.K8s, cluster)
	if err != nil {
		return err
	}

	return r.Restart.Restart(ctx, restart.Request{
		Cluster:      cluster,
		Servers:      servers,
		Host:         host,
		RCONPassword: password,
		Envs:         envs,
		ActiveVolume: volumeSuffix,
		Reason:       "server update",
	})
}

// activeMapIDs expands the server's map selector and subtracts server.suspend.
// Shared with ConfigWatchReconciler, which needs the same active-map set to
// scope a configuration-driven restart.
func activeMapIDs(cluster *arkv1beta1.ArkCluster) ([]string, error) {
	allIDs, err := arkmap.Expand(cluster.Spec.Server.Maps, universeMaps)
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

// clusterRCONPassword reads the generated RCON admin password out of the
// cluster's secret. Shared with ConfigWatchReconciler.
func clusterRCONPassword(ctx context.Context, k8s k8sclient.Client, cluster *arkv1beta1.ArkCluster) (string, error) {
	secret, err := k8s.GetSecret(ctx, cluster.Namespace, fmt.Sprintf("%s-cluster-secrets", cluster.Name))
	if err != nil {
		return "", err
	}
	return string(secret.Data[render.RCONPasswordKey]), nil
}

func (r *ArkClusterReconciler) latestBuildID(ctx context.Context) (int64, error) {
	return buildcheck.LatestBuildID(ctx, r.HTTPClient)
}

func (r *ArkClusterReconciler) buildCheckInterval() time.Duration {
	if r.BuildCheckInterval <= 0 {
		return 15 * time.Minute
	}
	return r.BuildCheckInterval
}

// reconcileDelete fans out the deletion of the init job (force), the cluster
// secret, and whichever PVCs are not marked persistent. Pods and services
// are reaped by owner references.
func (r *ArkClusterReconciler) reconcileDelete(ctx context.Context, cluster *arkv1beta1.ArkCluster) error {
	if err := r.K8s.DeleteJob(ctx, cluster.Namespace, fmt.Sprintf("%s-init", cluster.Name)); err != nil {
		return err
	}
	if err := r.K8s.DeleteSecret(ctx, cluster.Namespace, fmt.Sprintf("%s-cluster-secrets", cluster.Name)); err != nil {
		return err
	}
	if !cluster.Spec.Server.Persist {
		if err := r.K8s.DeletePVC(ctx, cluster.Namespace, render.ServerPVCName(cluster.Name, "a")); err != nil {
			return err
		}
		if err := r.K8s.DeletePVC(ctx, cluster.Namespace, render.ServerPVCName(cluster.Name, "b")); err != nil {
			return err
		}
	}
	if !cluster.Spec.Data.Persist {
		if err := r.K8s.DeletePVC(ctx, cluster.Namespace, render.DataPVCName(cluster.Name)); err != nil {
			return err
		}
	}
	return nil
}

// handleError classifies err via arkerrors and either schedules a requeue
// (temporary) or writes the terminal "Error: " status (permanent).
func (r *ArkClusterReconciler) handleError(ctx context.Context, cluster *arkv1beta1.ArkCluster, err error) (ctrl.Result, error) {
	if arkerrors.IsPermanent(err) {
		_ = r.K8s.PatchClusterStatus(ctx, cluster, map[string]any{
			"state":  arkerrors.ErrorState(err),
			"ready":  false,
			"stages": nil,
		})
		cluster.Status.Ready = false
		cluster.Status.Stages = nil
		return ctrl.Result{}, nil
	}
	if t, ok := arkerrors.IsTemporary(err); ok {
		return ctrl.Result{RequeueAfter: t.RequeueAfter()}, nil
	}
	return ctrl.Result{}, err
}

func randomPassword(length int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("generate rcon password: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// SetupWithManager registers the ArkClusterReconciler with the controller manager.
func (r *ArkClusterReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&arkv1beta1.ArkCluster{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&corev1.Secret{}).
		Owns(&corev1.Pod{}).
		Owns(&corev1.Service{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
