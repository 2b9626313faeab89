// Package events provides NATS event subscription and publishing for the
// ark-operator, adapted from the sibling k8s-controller's events package:
// the same connection/handler-map/subject shape, with ArkCluster-specific
// subjects in place of StreamSpace's session/app/template/node ones.
package events

import "time"

// NATS subjects this operator subscribes to and publishes.
const (
	SubjectRestartRequest = "ark.cluster.restart"
	SubjectSuspendRequest = "ark.cluster.suspend"
	SubjectResumeRequest  = "ark.cluster.resume"
	SubjectRCONRequest    = "ark.cluster.rcon"

	SubjectClusterChanged = "ark.cluster.changed"

	SubjectControllerSyncRequest = "ark.controller.sync.request"
)

// RestartRequestEvent asks the restart coordinator to replace pods for the
// given cluster/map selector.
type RestartRequestEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Cluster   string    `json:"cluster"`
	Namespace string    `json:"namespace"`
	Reason    string    `json:"reason"`
	Maps      []string  `json:"maps,omitempty"`
	Force     bool      `json:"force"`
	Suspend   bool      `json:"suspend"`
}

// SuspendRequestEvent asks the reconciler to add map ids to spec.server.suspend.
type SuspendRequestEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Cluster   string    `json:"cluster"`
	Namespace string    `json:"namespace"`
	Maps      []string  `json:"maps"`
}

// ResumeRequestEvent asks the reconciler to remove map ids from spec.server.suspend.
type ResumeRequestEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Cluster   string    `json:"cluster"`
	Namespace string    `json:"namespace"`
	Maps      []string  `json:"maps"`
}

// RCONRequestEvent asks the operator to fan an RCON command out to a map selector.
type RCONRequestEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Cluster   string    `json:"cluster"`
	Namespace string    `json:"namespace"`
	Command   string    `json:"command"`
	Maps      []string  `json:"maps,omitempty"`
}

// ClusterChangedEvent is published whenever the reconciler or configuration
// watcher makes an observable change to a cluster, so external dashboards
// don't need to poll the custom resource.
type ClusterChangedEvent struct {
	EventID      string    `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	Cluster      string    `json:"cluster"`
	Namespace    string    `json:"namespace"`
	State        string    `json:"state"`
	Reason       string    `json:"reason"`
	ControllerID string    `json:"controller_id"`
}

// ControllerSyncRequestEvent is published on startup so an external API can
// replay any in-flight restart/suspend requests the operator missed.
type ControllerSyncRequestEvent struct {
	EventID      string    `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	ControllerID string    `json:"controller_id"`
}
