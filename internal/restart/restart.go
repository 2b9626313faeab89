// Package restart drives the rolling restart of a cluster's game server
// pods: announce over RCON, save, shut down, wait, and recreate pointed at
// the active volume. Grounded on handlers/utils.py's restart_with_lock, with
// the single process-wide asyncio.Lock generalized to one sync.Mutex per
// tracked cluster instance and TryLock in place of a blocking acquire.
package restart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
	"github.com/AngellusMortis/ark-operator/internal/rcon"
	"github.com/AngellusMortis/ark-operator/internal/render"
	"github.com/AngellusMortis/ark-operator/pkg/events"
	"github.com/AngellusMortis/ark-operator/pkg/metrics"
)

const (
	defaultPodWaitPolls    = 10
	defaultPodWaitInterval = 6 * time.Second
)

// DefaultWarningLadder is the announcement schedule used when the caller
// does not supply one.
var DefaultWarningLadder = []time.Duration{
	60 * time.Minute, 30 * time.Minute, 15 * time.Minute, 5 * time.Minute, 1 * time.Minute,
}

// RCONSender is the subset of *rcon.Pool the coordinator needs; satisfied by
// *rcon.Pool in production and a fake in tests.
type RCONSender interface {
	SendAll(ctx context.Context, cmd, password string, targets []rcon.Target, keepOpen, raiseExceptions bool) ([]rcon.Result, error)
}

// ChangePublisher is the subset of *events.Subscriber the coordinator needs
// to announce a restart in progress.
type ChangePublisher interface {
	PublishClusterChanged(event events.ClusterChangedEvent) error
}

type instanceKey struct {
	name      string
	namespace string
}

// Coordinator serializes all gameplay-visible disruption for each tracked
// cluster behind a strictly non-blocking per-instance mutex.
type Coordinator struct {
	logger          *zap.Logger
	rcon            RCONSender
	client          k8sclient.Client
	publisher       ChangePublisher
	controllerID    string
	warningLadder   []time.Duration
	podWaitPolls    int
	podWaitInterval time.Duration

	mu    sync.Mutex
	locks map[instanceKey]*sync.Mutex
}

// NewCoordinator builds a Coordinator. publisher may be nil if no external
// NATS broadcast is configured.
func NewCoordinator(logger *zap.Logger, sender RCONSender, client k8sclient.Client, publisher ChangePublisher, controllerID string, warningLadder []time.Duration) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if warningLadder == nil {
		warningLadder = DefaultWarningLadder
	}
	return &Coordinator{
		logger:          logger,
		rcon:            sender,
		client:          client,
		publisher:       publisher,
		controllerID:    controllerID,
		warningLadder:   warningLadder,
		podWaitPolls:    defaultPodWaitPolls,
		podWaitInterval: defaultPodWaitInterval,
		locks:           map[instanceKey]*sync.Mutex{},
	}
}

// Track creates the restart mutex for (name, namespace) if one doesn't
// already exist; called from the reconciler's create path.
func (c *Coordinator) Track(name, namespace string) {
	c.lockFor(instanceKey{name: name, namespace: namespace})
}

// Untrack drops the mutex for (name, namespace); called from the
// reconciler's delete path.
func (c *Coordinator) Untrack(name, namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, instanceKey{name: name, namespace: namespace})
}

func (c *Coordinator) lockFor(key instanceKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// Request describes one restart invocation.
type Request struct {
	Cluster      *arkv1beta1.ArkCluster
	Servers      []arkmap.GameServer
	Host         string
	RCONPassword string
	Envs         map[string]map[string]string
	ActiveVolume string
	Reason       string
	// Suspend marks the target maps in spec.server.suspend so the
	// reconciler does not recreate their pods after shutdown.
	Suspend bool
	// Force skips the warning ladder and the pod-termination wait.
	Force bool
}

// Restart runs the announce/save/shutdown/wait/replace sequence for
// req.Servers. If the cluster's restart mutex is already held, it logs and
// returns immediately without an error — a second concurrent request is a
// no-op, not a failure.
func (c *Coordinator) Restart(ctx context.Context, req Request) error {
	key := instanceKey{name: req.Cluster.Name, namespace: req.Cluster.Namespace}
	lock := c.lockFor(key)

	if !lock.TryLock() {
		c.logger.Info("restart already in progress, skipping",
			zap.String("cluster", req.Cluster.Name), zap.String("reason", req.Reason))
		metrics.RecordRestart(req.Cluster.Namespace, req.Reason, "skipped")
		return nil
	}
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		metrics.ObserveRestartDuration(req.Cluster.Namespace, time.Since(start).Seconds())
	}()

	targets := make([]rcon.Target, len(req.Servers))
	for i, s := range req.Servers {
		targets[i] = rcon.Target{MapID: s.MapID, Host: req.Host, Port: int(s.RCONPort), Namespace: req.Cluster.Namespace}
	}

	c.publishChange(req.Cluster, "restarting", req.Reason)

	if req.Suspend {
		mapIDs := mapIDsOf(req.Servers)
		if err := c.client.PatchClusterSuspend(ctx, req.Cluster, mapIDs, true); err != nil {
			return fmt.Errorf("suspend maps before restart: %w", err)
		}
	}

	if !req.Force {
		if err := c.announce(ctx, req, targets); err != nil {
			return err
		}
	}

	c.sendAllWithMetrics(ctx, req, "SaveWorld", targets, true)
	c.sendAllWithMetrics(ctx, req, "DoExit", targets, false)

	if req.Force {
		metrics.RecordRestart(req.Cluster.Namespace, req.Reason, "forced")
		c.publishChange(req.Cluster, "restarted", req.Reason)
		return nil
	}

	for _, s := range req.Servers {
		c.waitForPodGone(ctx, req.Cluster.Namespace, render.ServerPodName(req.Cluster.Name, s.Slug))
	}

	if !req.Suspend {
		for _, s := range req.Servers {
			pod := render.ServerPod(req.Cluster, s, req.ActiveVolume, req.Envs[s.MapID])
			if err := c.client.ForceCreatePod(ctx, pod); err != nil {
				metrics.RecordRestart(req.Cluster.Namespace, req.Reason, "failed")
				return fmt.Errorf("recreate pod for map %s: %w", s.MapID, err)
			}
		}
	}

	metrics.RecordRestart(req.Cluster.Namespace, req.Reason, "completed")
	c.publishChange(req.Cluster, "restarted", req.Reason)
	return nil
}

// sendAllWithMetrics runs the fan-out and records a per-target RCON command
// outcome, logging (but not failing the restart on) a transport error.
func (c *Coordinator) sendAllWithMetrics(ctx context.Context, req Request, cmd string, targets []rcon.Target, keepOpen bool) {
	results, err := c.rcon.SendAll(ctx, cmd, req.RCONPassword, targets, keepOpen, false)
	if err != nil {
		c.logger.Warn("rcon fan-out failed", zap.String("cluster", req.Cluster.Name), zap.String("cmd", cmd), zap.Error(err))
		metrics.RecordRCONCommand(req.Cluster.Namespace, "error")
		return
	}
	for _, r := range results {
		if r.Err != nil {
			metrics.RecordRCONCommand(req.Cluster.Namespace, "error")
		} else {
			metrics.RecordRCONCommand(req.Cluster.Namespace, "ok")
		}
	}
}

func (c *Coordinator) announce(ctx context.Context, req Request, targets []rcon.Target) error {
	for _, wait := range c.warningLadder {
		c.sendAllWithMetrics(ctx, req, fmt.Sprintf("ServerChat %s (restarting in %s)", req.Reason, wait.Round(time.Second)), targets, true)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// waitForPodGone polls for up to podWaitPolls*podWaitInterval for the named
// pod to disappear. A pod still present when the window elapses does not
// abort the restart: ForceCreatePod deletes-then-recreates on a name
// collision, so the replacement proceeds regardless.
func (c *Coordinator) waitForPodGone(ctx context.Context, namespace, name string) {
	for i := 0; i < c.podWaitPolls; i++ {
		_, err := c.client.GetPod(ctx, namespace, name)
		if arkerrors.IsNotFound(err) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.podWaitInterval):
		}
	}
}

func (c *Coordinator) publishChange(cluster *arkv1beta1.ArkCluster, state, reason string) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.PublishClusterChanged(events.ClusterChangedEvent{
		EventID:      uuid.NewString(),
		Timestamp:    time.Now(),
		Cluster:      cluster.Name,
		Namespace:    cluster.Namespace,
		State:        state,
		Reason:       reason,
		ControllerID: c.controllerID,
	})
	if err != nil {
		c.logger.Warn("publish cluster changed event failed", zap.Error(err))
	}
}

func mapIDsOf(servers []arkmap.GameServer) []string {
	ids := make([]string, len(servers))
	for i, s := range servers {
		ids[i] = s.MapID
	}
	return ids
}
