package v1beta1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ClusterStage is a persisted checkpoint of reconciliation progress. Once a
// stage is marked complete it is not repeated until the resource is deleted.
type ClusterStage string

const (
	// StageServerPVC covers creation of the server-a/server-b PVCs.
	StageServerPVC ClusterStage = "SERVER_PVC"
	// StageDataPVC covers creation of the data PVC.
	StageDataPVC ClusterStage = "DATA_PVC"
	// StageInitPVC covers the one-shot install job.
	StageInitPVC ClusterStage = "INIT_PVC"
	// StageCreate covers secret/pod/service creation.
	StageCreate ClusterStage = "CREATE"
)

// ErrorStatePrefix marks status.state as a terminal failure.
const ErrorStatePrefix = "Error: "

// ArkServerSpec defines the server volume and map topology for a cluster.
type ArkServerSpec struct {
	// StorageClass for the server PVCs.
	// +optional
	StorageClass string `json:"storageClass,omitempty"`

	// Size is a size literal (see the size parser): integer bytes, a binary
	// suffix ("50Gi"), an SI suffix ("50G") or scientific notation ("5e10").
	// +kubebuilder:default="50Gi"
	Size string `json:"size,omitempty"`

	// Maps is an ordered selector: concrete map ids, group aliases ("@canonical",
	// "@official", ...), and negations ("-Aberration_WP").
	// +kubebuilder:default={"canonical"}
	Maps []string `json:"maps,omitempty"`

	// Persist keeps the server PVCs after the ArkCluster is deleted.
	// +optional
	Persist bool `json:"persist,omitempty"`

	// GamePortStart is the UDP game port assigned to the first map.
	// +kubebuilder:default=7777
	GamePortStart int32 `json:"gamePortStart,omitempty"`

	// RCONPortStart is the TCP RCON port assigned to the first map.
	// +kubebuilder:default=27020
	RCONPortStart int32 `json:"rconPortStart,omitempty"`

	// Suspend lists map ids that should not have a running pod even though
	// they are part of the expanded map selector.
	// +optional
	Suspend []string `json:"suspend,omitempty"`

	// Resources applied to every server pod.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

// ArkDataSpec defines the shared data volume for a cluster.
type ArkDataSpec struct {
	// StorageClass for the data PVC.
	// +optional
	StorageClass string `json:"storageClass,omitempty"`

	// Size is a size literal, see ArkServerSpec.Size.
	// +kubebuilder:default="50Gi"
	Size string `json:"size,omitempty"`

	// Persist keeps the data PVC after the ArkCluster is deleted.
	// +kubebuilder:default=true
	Persist bool `json:"persist,omitempty"`
}

// GlobalSettings holds cluster-wide game configuration applied to every map
// unless overridden by a per-map configmap.
type GlobalSettings struct {
	// SessionNameFormat is interpolated with the map name to build the
	// in-game session name, e.g. "ASA - {map}".
	// +kubebuilder:default="ASA - {map}"
	SessionNameFormat string `json:"sessionNameFormat,omitempty"`

	// MultihomeIP advertises a fixed IP for servers behind NAT.
	// +optional
	MultihomeIP string `json:"multihomeIp,omitempty"`

	// MaxPlayers applied to every map.
	// +kubebuilder:default=70
	MaxPlayers int32 `json:"maxPlayers,omitempty"`

	// ClusterID groups maps for cross-ARK transfers.
	// +optional
	ClusterID string `json:"clusterId,omitempty"`

	// Battleye enables the BattlEye anti-cheat layer.
	// +kubebuilder:default=true
	Battleye bool `json:"battleye,omitempty"`

	// AllowedPlatforms restricts cross-play; "ALL" permits every platform.
	// +kubebuilder:default={"ALL"}
	AllowedPlatforms []string `json:"allowedPlatforms,omitempty"`

	// Whitelist restricts joining to the exclusive-join list.
	// +optional
	Whitelist bool `json:"whitelist,omitempty"`

	// Params are extra `?Key=Value` command-line parameters. Any entry
	// colliding with a managed parameter is a ManagedCollision error.
	// +optional
	Params []string `json:"params,omitempty"`

	// Opts are extra `-Key=Value` command-line options. Any entry colliding
	// with a managed option is a ManagedCollision error.
	// +optional
	Opts []string `json:"opts,omitempty"`

	// Mods lists CurseForge/Steam Workshop mod ids to load, in order.
	// +optional
	Mods []string `json:"mods,omitempty"`
}

// ServiceSpec customizes the game/rcon Services created for a cluster.
type ServiceSpec struct {
	// LoadBalancerIP requests a specific address from the cloud provider.
	// +optional
	LoadBalancerIP string `json:"loadBalancerIp,omitempty"`

	// Annotations are merged onto both owned Services.
	// +optional
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ArkClusterSpec defines the desired state of an ArkCluster.
type ArkClusterSpec struct {
	// Server describes the server volume and map topology.
	// +optional
	Server ArkServerSpec `json:"server,omitempty"`

	// Data describes the shared data volume.
	// +optional
	Data ArkDataSpec `json:"data,omitempty"`

	// GlobalSettings applies to every map unless overridden per-map.
	// +optional
	GlobalSettings GlobalSettings `json:"globalSettings,omitempty"`

	// Service customizes the owned Services.
	// +optional
	Service ServiceSpec `json:"service,omitempty"`

	// RunAsUser is the UID the game process and init job run as.
	// +kubebuilder:default=1000
	RunAsUser int64 `json:"runAsUser,omitempty"`

	// RunAsGroup is the GID the game process and init job run as.
	// +kubebuilder:default=1000
	RunAsGroup int64 `json:"runAsGroup,omitempty"`

	// NodeSelector constrains scheduling of every owned pod/job.
	// +optional
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`

	// Tolerations applied to every owned pod/job.
	// +optional
	Tolerations []corev1.Toleration `json:"tolerations,omitempty"`
}

// RestartStatus records the in-progress (or most recent) rolling restart.
type RestartStatus struct {
	// Reason is the human-readable cause, announced to players via RCON.
	Reason string `json:"reason,omitempty"`

	// StartedAt is when the restart coordinator acquired the instance mutex.
	StartedAt metav1.Time `json:"startedAt,omitempty"`

	// ActiveVolume is the volume the restarted pods were pointed at.
	ActiveVolume string `json:"activeVolume,omitempty"`
}

// ArkClusterStatus defines the observed state of an ArkCluster.
type ArkClusterStatus struct {
	// Ready is true once every stage has completed at least once.
	Ready bool `json:"ready,omitempty"`

	// State is a human-readable phase. The reserved prefix "Error: " marks
	// a terminal failure.
	// +kubebuilder:default="Initializing"
	State string `json:"state,omitempty"`

	// Stages holds persisted checkpoints; cleared once Initialized is set.
	// +optional
	Stages map[ClusterStage]bool `json:"stages,omitempty"`

	// Initialized gates re-entry into the create path on future reconciliations.
	Initialized bool `json:"initialized,omitempty"`

	// ActiveVolume is the server volume currently mounted by running pods.
	// +kubebuilder:validation:Enum=server-a;server-b
	ActiveVolume string `json:"activeVolume,omitempty"`

	// ActiveBuildid is the upstream build id currently installed on ActiveVolume.
	ActiveBuildid int64 `json:"activeBuildid,omitempty"`

	// LatestBuildid is the most recently observed upstream build id.
	LatestBuildid int64 `json:"latestBuildid,omitempty"`

	// LastUpdate is stamped on every status patch.
	// +optional
	LastUpdate metav1.Time `json:"lastUpdate,omitempty"`

	// Restart records the in-progress (or most recent) rolling restart.
	// +optional
	Restart *RestartStatus `json:"restart,omitempty"`
}

// IsError reports whether State carries the reserved error prefix.
func (s *ArkClusterStatus) IsError() bool {
	return len(s.State) >= len(ErrorStatePrefix) && s.State[:len(ErrorStatePrefix)] == ErrorStatePrefix
}

// IsStageCompleted reports whether stage has been recorded as complete.
func (s *ArkClusterStatus) IsStageCompleted(stage ClusterStage) bool {
	if s.Stages == nil {
		return false
	}
	return s.Stages[stage]
}

// MarkStageComplete records stage as complete, initializing the map if needed.
func (s *ArkClusterStatus) MarkStageComplete(stage ClusterStage) {
	if s.Stages == nil {
		s.Stages = map[ClusterStage]bool{}
	}
	s.Stages[stage] = true
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=ac
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="Ready",type=boolean,JSONPath=`.status.ready`
// +kubebuilder:printcolumn:name="ActiveVolume",type=string,JSONPath=`.status.activeVolume`
// +kubebuilder:printcolumn:name="ActiveBuild",type=integer,JSONPath=`.status.activeBuildid`
// +kubebuilder:printcolumn:name="LatestBuild",type=integer,JSONPath=`.status.latestBuildid`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// ArkCluster is the Schema for the arkclusters API.
type ArkCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ArkClusterSpec   `json:"spec,omitempty"`
	Status ArkClusterStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ArkClusterList contains a list of ArkCluster.
type ArkClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ArkCluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ArkCluster{}, &ArkClusterList{})
}
