// Package render builds the Kubernetes resources an ArkCluster owns: server
// and data PVCs, the RCON-password secret, per-map game server pods, the
// game/RCON services, and the init/update job pod templates. Each builder
// returns a concrete typed object, mirroring the teacher's
// createDeployment/createService/createIngress pattern.
package render

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
)

// ServerPVCName returns the name of the server volume ("a" or "b" variant).
func ServerPVCName(cluster string, volume string) string {
	return fmt.Sprintf("%s-server-%s", cluster, volume)
}

// DataPVCName returns the name of the shared data volume.
func DataPVCName(cluster string) string {
	return fmt.Sprintf("%s-data", cluster)
}

// RCONPasswordKey is the cluster secret's data key holding the generated
// RCON admin password.
const RCONPasswordKey = "ARK_SERVER_RCON_PASSWORD"

// ServerPodName returns the name of a map's game server pod.
func ServerPodName(cluster, mapSlug string) string {
	return fmt.Sprintf("%s-%s", cluster, mapSlug)
}

func ownerRef(c *arkv1beta1.ArkCluster) metav1.OwnerReference {
	return *metav1.NewControllerRef(c, arkv1beta1.GroupVersion.WithKind("ArkCluster"))
}

func labels(cluster string, extra map[string]string) map[string]string {
	l := map[string]string{
		"app.kubernetes.io/name":       "ark-operator",
		"app.kubernetes.io/instance":   cluster,
		"app.kubernetes.io/managed-by": "ark-operator",
	}
	for k, v := range extra {
		l[k] = v
	}
	return l
}

// ServerPVC builds the PVC for one server volume ("a" or "b").
func ServerPVC(c *arkv1beta1.ArkCluster, volume string, size resource.Quantity) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:            ServerPVCName(c.Name, volume),
			Namespace:       c.Namespace,
			Labels:          labels(c.Name, map[string]string{"ark.mort.is/volume": volume}),
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: strPtr(c.Spec.Server.StorageClass),
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
}

// DataPVC builds the shared data PVC.
func DataPVC(c *arkv1beta1.ArkCluster, size resource.Quantity) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:            DataPVCName(c.Name),
			Namespace:       c.Namespace,
			Labels:          labels(c.Name, nil),
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: strPtr(c.Spec.Data.StorageClass),
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
}

// ClusterSecret builds the cluster-wide secret holding the RCON admin
// password shared by every map's server.
func ClusterSecret(c *arkv1beta1.ArkCluster, rconPassword string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:            fmt.Sprintf("%s-cluster-secrets", c.Name),
			Namespace:       c.Namespace,
			Labels:          labels(c.Name, nil),
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
		},
		StringData: map[string]string{
			RCONPasswordKey: rconPassword,
		},
	}
}

// ServerPod builds the game-server pod for one map.
func ServerPod(c *arkv1beta1.ArkCluster, server arkmap.GameServer, activeVolume string, envs map[string]string) *corev1.Pod {
	l := labels(c.Name, map[string]string{"ark.mort.is/map": server.Slug})

	env := make([]corev1.EnvVar, 0, len(envs))
	for k, v := range envs {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:            ServerPodName(c.Name, server.Slug),
			Namespace:       c.Namespace,
			Labels:          l,
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
		},
		Spec: corev1.PodSpec{
			SecurityContext: &corev1.PodSecurityContext{
				RunAsUser:  &c.Spec.RunAsUser,
				RunAsGroup: &c.Spec.RunAsGroup,
				FSGroup:    &c.Spec.RunAsGroup,
			},
			NodeSelector: c.Spec.NodeSelector,
			Tolerations:  c.Spec.Tolerations,
			Containers: []corev1.Container{
				{
					Name:  "ark",
					Image: "ghcr.io/angellusmortis/ark-server:latest",
					Env:   env,
					Ports: []corev1.ContainerPort{
						{Name: "game", ContainerPort: server.Port, Protocol: corev1.ProtocolUDP},
						{Name: "rcon", ContainerPort: server.RCONPort, Protocol: corev1.ProtocolTCP},
					},
					Resources: c.Spec.Server.Resources,
					VolumeMounts: []corev1.VolumeMount{
						{Name: "server", MountPath: "/srv/ark/server"},
						{Name: "data", MountPath: "/srv/ark/data"},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "server",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: ServerPVCName(c.Name, activeVolume)},
					},
				},
				{
					Name: "data",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: DataPVCName(c.Name)},
					},
				},
			},
		},
	}
}

// GameService builds the UDP service exposing every active map's game port.
func GameService(c *arkv1beta1.ArkCluster, servers []arkmap.GameServer) *corev1.Service {
	ports := make([]corev1.ServicePort, 0, len(servers))
	for _, s := range servers {
		ports = append(ports, corev1.ServicePort{
			Name:     fmt.Sprintf("game-%s", s.Slug),
			Port:     s.Port,
			Protocol: corev1.ProtocolUDP,
		})
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            fmt.Sprintf("%s-game", c.Name),
			Namespace:       c.Namespace,
			Labels:          labels(c.Name, nil),
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
			Annotations:     c.Spec.Service.Annotations,
		},
		Spec: corev1.ServiceSpec{
			Selector:              labels(c.Name, nil),
			Ports:                 ports,
			Type:                  corev1.ServiceTypeLoadBalancer,
			LoadBalancerIP:        c.Spec.Service.LoadBalancerIP,
			ExternalTrafficPolicy: corev1.ServiceExternalTrafficPolicyLocal,
		},
	}
}

// RCONService builds the TCP service exposing every active map's RCON port,
// kept cluster-internal.
func RCONService(c *arkv1beta1.ArkCluster, servers []arkmap.GameServer) *corev1.Service {
	ports := make([]corev1.ServicePort, 0, len(servers))
	for _, s := range servers {
		ports = append(ports, corev1.ServicePort{
			Name:     fmt.Sprintf("rcon-%s", s.Slug),
			Port:     s.RCONPort,
			Protocol: corev1.ProtocolTCP,
		})
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            fmt.Sprintf("%s-rcon", c.Name),
			Namespace:       c.Namespace,
			Labels:          labels(c.Name, nil),
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
		},
		Spec: corev1.ServiceSpec{
			Selector: labels(c.Name, nil),
			Ports:    ports,
			Type:     corev1.ServiceTypeClusterIP,
		},
	}
}

// InitJob builds the one-shot job that chowns the volumes and installs the
// initial binary into server-a. The container spec is authored as an
// embedded YAML template (initJobPodSpecYAML) for operator-image
// compatibility, the same pattern the teacher uses to load a manifest string
// for ApplicationInstall.
func InitJob(c *arkv1beta1.ArkCluster, specJSON string) (*batchv1.Job, error) {
	return buildJob(c, fmt.Sprintf("%s-init", c.Name), "install", specJSON)
}

// UpdateJob builds the job that copies the active volume to the inactive one
// and validates the new build against it.
func UpdateJob(c *arkv1beta1.ArkCluster, specJSON string) (*batchv1.Job, error) {
	return buildJob(c, fmt.Sprintf("%s-update", c.Name), "validate", specJSON)
}

func buildJob(c *arkv1beta1.ArkCluster, name, mode, specJSON string) (*batchv1.Job, error) {
	podSpec, err := jobPodSpec(c, mode, specJSON)
	if err != nil {
		return nil, err
	}

	backoff := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			Namespace:       c.Namespace,
			Labels:          labels(c.Name, nil),
			OwnerReferences: []metav1.OwnerReference{ownerRef(c)},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels(c.Name, nil)},
				Spec:       podSpec,
			},
		},
	}, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
