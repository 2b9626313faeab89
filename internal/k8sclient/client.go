// Package k8sclient wraps the controller-runtime client with the CRUD surface
// the reconciler needs for PVCs, Secrets, ConfigMaps, Pods, Services, Jobs and
// CronJobs, plus status-subresource patching with conflict retry.
package k8sclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
)

// MinPVCSize is the smallest size a PVC create/resize request may carry.
const MinPVCSize = 50 * 1024 * 1024 * 1024 // 50Gi

// Client is the resource-client surface the reconciler and restart
// coordinator depend on. The controller-runtime-backed implementation is the
// only production implementation; the interface exists so reconciler tests
// can swap in a fake.
type Client interface {
	GetPVC(ctx context.Context, namespace, name string) (*corev1.PersistentVolumeClaim, error)
	EnsurePVC(ctx context.Context, pvc *corev1.PersistentVolumeClaim) error
	ResizePVC(ctx context.Context, namespace, name string, size resource.Quantity) error
	DeletePVC(ctx context.Context, namespace, name string) error

	GetSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error)
	ForceCreateSecret(ctx context.Context, secret *corev1.Secret) error
	DeleteSecret(ctx context.Context, namespace, name string) error

	GetConfigMap(ctx context.Context, namespace, name string) (*corev1.ConfigMap, error)

	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	ForceCreatePod(ctx context.Context, pod *corev1.Pod) error
	DeletePod(ctx context.Context, namespace, name string) error

	GetService(ctx context.Context, namespace, name string) (*corev1.Service, error)
	ForceCreateService(ctx context.Context, svc *corev1.Service) error

	GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error)
	ForceCreateJob(ctx context.Context, job *batchv1.Job) error
	DeleteJob(ctx context.Context, namespace, name string) error

	GetCronJob(ctx context.Context, namespace, name string) (*batchv1.CronJob, error)
	ForceCreateCronJob(ctx context.Context, cj *batchv1.CronJob) error

	PatchClusterStatus(ctx context.Context, cluster *arkv1beta1.ArkCluster, patch map[string]any) error
	PatchClusterSuspend(ctx context.Context, cluster *arkv1beta1.ArkCluster, mapIDs []string, suspend bool) error
}

// realClient is the controller-runtime-backed implementation.
type realClient struct {
	client.Client
	minPVCSize int64
}

// New wraps a controller-runtime client.Client, enforcing the default
// MinPVCSize floor on every PVC create/resize.
func New(c client.Client) Client {
	return &realClient{Client: c, minPVCSize: MinPVCSize}
}

// NewWithMinSize wraps a controller-runtime client.Client with a caller-supplied
// PVC size floor in place of MinPVCSize — used to relax the floor in tests and
// to apply an operator-configured minimum in production.
func NewWithMinSize(c client.Client, minSize int64) Client {
	if minSize <= 0 {
		minSize = MinPVCSize
	}
	return &realClient{Client: c, minPVCSize: minSize}
}

func (c *realClient) GetPVC(ctx context.Context, namespace, name string) (*corev1.PersistentVolumeClaim, error) {
	var pvc corev1.PersistentVolumeClaim
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &pvc); err != nil {
		return nil, wrapNotFound(err, "PersistentVolumeClaim", namespace, name)
	}
	return &pvc, nil
}

// EnsurePVC creates pvc if absent. Size enforcement (minimum, no-shrink) is
// the caller's responsibility via ResizePVC before calling Create on an
// already-existing claim — PVC storage requests cannot be patched on create.
func (c *realClient) EnsurePVC(ctx context.Context, pvc *corev1.PersistentVolumeClaim) error {
	requested := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	if requested.Value() < c.minPVCSize {
		min := resource.NewQuantity(c.minPVCSize, resource.BinarySI)
		return &arkerrors.PVCTooSmallError{MinSize: min.String()}
	}

	existing, err := c.GetPVC(ctx, pvc.Namespace, pvc.Name)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return err
		}
		if err := c.Create(ctx, pvc); err != nil && !apierrors.IsAlreadyExists(err) {
			return arkerrors.NewTransient("create PVC", err)
		}
		return nil
	}

	return c.ResizePVC(ctx, existing.Namespace, existing.Name, requested)
}

// ResizePVC patches an existing PVC's storage request upward. A target
// smaller than the current request is rejected.
func (c *realClient) ResizePVC(ctx context.Context, namespace, name string, size resource.Quantity) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		pvc, err := c.GetPVC(ctx, namespace, name)
		if err != nil {
			return err
		}

		current := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
		if size.Value() < current.Value() {
			return &arkerrors.PVCShrinkError{
				Name:       name,
				Current:    current.Value(),
				Requested:  size.Value(),
				CurrentStr: current.String(),
				RequestStr: size.String(),
			}
		}
		if size.Value() == current.Value() {
			return nil
		}

		pvc.Spec.Resources.Requests[corev1.ResourceStorage] = size
		return c.Update(ctx, pvc)
	})
}

func (c *realClient) DeletePVC(ctx context.Context, namespace, name string) error {
	pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	return client.IgnoreNotFound(c.Delete(ctx, pvc))
}

func (c *realClient) GetSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	var secret corev1.Secret
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &secret); err != nil {
		return nil, wrapNotFound(err, "Secret", namespace, name)
	}
	return &secret, nil
}

// ForceCreateSecret patches secret if present, creates it if absent.
func (c *realClient) ForceCreateSecret(ctx context.Context, secret *corev1.Secret) error {
	existing, err := c.GetSecret(ctx, secret.Namespace, secret.Name)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return err
		}
		return c.Create(ctx, secret)
	}
	existing.Data = secret.Data
	existing.StringData = secret.StringData
	return c.Update(ctx, existing)
}

func (c *realClient) DeleteSecret(ctx context.Context, namespace, name string) error {
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	return client.IgnoreNotFound(c.Delete(ctx, secret))
}

func (c *realClient) GetConfigMap(ctx context.Context, namespace, name string) (*corev1.ConfigMap, error) {
	var cm corev1.ConfigMap
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &cm); err != nil {
		return nil, wrapNotFound(err, "ConfigMap", namespace, name)
	}
	return &cm, nil
}

func (c *realClient) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	var pod corev1.Pod
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &pod); err != nil {
		return nil, wrapNotFound(err, "Pod", namespace, name)
	}
	return &pod, nil
}

// ForceCreatePod patches pod's spec if present (replace in place, same name),
// creates it if absent — the "force_create" semantics §4.9 requires for the
// CREATE stage and the restart coordinator's pod replacement step.
func (c *realClient) ForceCreatePod(ctx context.Context, pod *corev1.Pod) error {
	existing, err := c.GetPod(ctx, pod.Namespace, pod.Name)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return err
		}
		if err := c.Create(ctx, pod); err != nil && !apierrors.IsAlreadyExists(err) {
			return arkerrors.NewTransient("create pod", err)
		}
		return nil
	}

	if err := c.Delete(ctx, existing); err != nil && !apierrors.IsNotFound(err) {
		return arkerrors.NewTransient("delete pod for replacement", err)
	}
	pod.ResourceVersion = ""
	if err := c.Create(ctx, pod); err != nil {
		return arkerrors.NewTransient("recreate pod", err)
	}
	return nil
}

func (c *realClient) DeletePod(ctx context.Context, namespace, name string) error {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	return client.IgnoreNotFound(c.Delete(ctx, pod))
}

func (c *realClient) GetService(ctx context.Context, namespace, name string) (*corev1.Service, error) {
	var svc corev1.Service
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &svc); err != nil {
		return nil, wrapNotFound(err, "Service", namespace, name)
	}
	return &svc, nil
}

func (c *realClient) ForceCreateService(ctx context.Context, svc *corev1.Service) error {
	existing, err := c.GetService(ctx, svc.Namespace, svc.Name)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return err
		}
		return c.Create(ctx, svc)
	}
	svc.Spec.ClusterIP = existing.Spec.ClusterIP
	svc.ResourceVersion = existing.ResourceVersion
	return c.Update(ctx, svc)
}

func (c *realClient) GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error) {
	var job batchv1.Job
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &job); err != nil {
		return nil, wrapNotFound(err, "Job", namespace, name)
	}
	return &job, nil
}

func (c *realClient) ForceCreateJob(ctx context.Context, job *batchv1.Job) error {
	if _, err := c.GetJob(ctx, job.Namespace, job.Name); err == nil {
		return nil // Job specs are immutable; an existing job is left running.
	} else if !arkerrors.IsNotFound(err) {
		return err
	}
	if err := c.Create(ctx, job); err != nil && !apierrors.IsAlreadyExists(err) {
		return arkerrors.NewTransient("create job", err)
	}
	return nil
}

func (c *realClient) DeleteJob(ctx context.Context, namespace, name string) error {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	bg := metav1.DeletePropagationBackground
	return client.IgnoreNotFound(c.Delete(ctx, job, &client.DeleteOptions{PropagationPolicy: &bg}))
}

func (c *realClient) GetCronJob(ctx context.Context, namespace, name string) (*batchv1.CronJob, error) {
	var cj batchv1.CronJob
	if err := c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &cj); err != nil {
		return nil, wrapNotFound(err, "CronJob", namespace, name)
	}
	return &cj, nil
}

func (c *realClient) ForceCreateCronJob(ctx context.Context, cj *batchv1.CronJob) error {
	existing, err := c.GetCronJob(ctx, cj.Namespace, cj.Name)
	if err != nil {
		if !arkerrors.IsNotFound(err) {
			return err
		}
		return c.Create(ctx, cj)
	}
	cj.ResourceVersion = existing.ResourceVersion
	return c.Update(ctx, cj)
}

// PatchClusterStatus applies a JSON merge-patch containing only the supplied
// fields, always stamping lastUpdate, retrying on conflict.
func (c *realClient) PatchClusterStatus(ctx context.Context, cluster *arkv1beta1.ArkCluster, patch map[string]any) error {
	patch["lastUpdate"] = metav1.Now()

	body, err := json.Marshal(map[string]any{"status": patch})
	if err != nil {
		return fmt.Errorf("marshal status patch: %w", err)
	}

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var fresh arkv1beta1.ArkCluster
		if err := c.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: cluster.Name}, &fresh); err != nil {
			return err
		}
		return c.Status().Patch(ctx, &fresh, client.RawPatch(types.MergePatchType, body))
	})
}

// PatchClusterSuspend adds (suspend=true) or removes (suspend=false) map ids
// from spec.server.suspend, used by the restart coordinator when an
// operator-initiated shutdown should keep the reconciler from recreating a
// map's pod.
func (c *realClient) PatchClusterSuspend(ctx context.Context, cluster *arkv1beta1.ArkCluster, mapIDs []string, suspend bool) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var fresh arkv1beta1.ArkCluster
		if err := c.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: cluster.Name}, &fresh); err != nil {
			return err
		}

		current := map[string]struct{}{}
		for _, id := range fresh.Spec.Server.Suspend {
			current[id] = struct{}{}
		}
		for _, id := range mapIDs {
			if suspend {
				current[id] = struct{}{}
			} else {
				delete(current, id)
			}
		}

		merged := make([]string, 0, len(current))
		for id := range current {
			merged = append(merged, id)
		}
		sort.Strings(merged)

		body, err := json.Marshal(map[string]any{"spec": map[string]any{"server": map[string]any{"suspend": merged}}})
		if err != nil {
			return fmt.Errorf("marshal suspend patch: %w", err)
		}
		return c.Patch(ctx, &fresh, client.RawPatch(types.MergePatchType, body))
	})
}

func wrapNotFound(err error, kind, namespace, name string) error {
	if apierrors.IsNotFound(err) {
		return &arkerrors.NotFoundError{Kind: kind, Namespace: namespace, Name: name}
	}
	return err
}
