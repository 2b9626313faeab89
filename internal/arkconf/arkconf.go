// Package arkconf composes the ARK_SERVER_* environment variables a game
// server pod receives: derived-from-spec values overlaid by a cluster-wide
// configmap, overlaid again by a per-map configmap, grounded on
// ark_operator.ark.conf.get_map_envs.
package arkconf

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
	"github.com/AngellusMortis/ark-operator/internal/arkmap"
	"github.com/AngellusMortis/ark-operator/internal/k8sclient"
)

const globalCacheTTL = 30 * time.Second

// managedParams/managedOpts are the reserved command-line identifiers a
// user-supplied params/opts entry is checked against; see §4.8.
var (
	managedParams = map[string]struct{}{
		"SessionName":         {},
		"RCONEnabled":         {},
		"RCONPort":            {},
		"ServerAdminPassword": {},
	}
	managedOpts = map[string]struct{}{
		"port":                    {},
		"WinLiveMaxPlayers":       {},
		"clusterid":               {},
		"ClusterDirOverride":      {},
		"NoTransferFromFiltering": {},
		"ServerPlatform":          {},
		"NoBattlEye":              {},
		"exclusivejoin":           {},
		"MULTIHOME":               {},
		"mods":                    {},
	}
)

// CheckManagedCollision fails if any user-supplied param/opt name collides
// with the reserved, operator-managed set.
func CheckManagedCollision(params, opts []string) error {
	if bad := collidingKeys(params, managedParams); len(bad) > 0 {
		return &arkerrors.ManagedCollisionError{Kind: "parameters", Items: bad}
	}
	if bad := collidingKeys(opts, managedOpts); len(bad) > 0 {
		return &arkerrors.ManagedCollisionError{Kind: "options", Items: bad}
	}
	return nil
}

func collidingKeys(entries []string, reserved map[string]struct{}) []string {
	var bad []string
	for _, e := range entries {
		key := e
		if idx := strings.IndexAny(e, "=:"); idx >= 0 {
			key = e[:idx]
		}
		if _, ok := reserved[key]; ok {
			bad = append(bad, e)
		}
	}
	return bad
}

type cacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// Composer produces per-map environment maps, TTL-caching the cluster-wide
// configmap read by (name, namespace).
type Composer struct {
	client k8sclient.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewComposer builds a Composer backed by c.
func NewComposer(c k8sclient.Client) *Composer {
	return &Composer{client: c, cache: map[string]cacheEntry{}}
}

// GetMapEnvs computes the fully overlaid ARK_SERVER_* map for one map id:
// derived ← global configmap (TTL-cached) ← per-map configmap (not cached).
func (c *Composer) GetMapEnvs(ctx context.Context, cluster *arkv1beta1.ArkCluster, mapID string) (map[string]string, error) {
	envs := derivedEnvs(cluster, mapID)

	global, err := c.globalEnvs(ctx, cluster.Name, cluster.Namespace)
	if err != nil {
		return nil, err
	}
	if mapID == arkmap.ClubMap {
		delete(global, "ARK_SERVER_PARAMS")
		delete(global, "ARK_SERVER_OPTS")
		delete(global, "ARK_SERVER_MODS")
	}
	for k, v := range global {
		envs[k] = v
	}

	perMap, err := c.mapEnvs(ctx, cluster.Name, cluster.Namespace, arkmap.Slug(mapID))
	if err != nil {
		return nil, err
	}
	for k, v := range perMap {
		envs[k] = v
	}

	return envs, nil
}

func derivedEnvs(cluster *arkv1beta1.ArkCluster, mapID string) map[string]string {
	gs := cluster.Spec.GlobalSettings
	mapName := arkmap.Name(mapID)
	sessionName := gs.SessionNameFormat
	if sessionName == "" {
		sessionName = "ASA - {map}"
	}
	sessionName = strings.ReplaceAll(sessionName, "{map}", mapName)

	envs := map[string]string{
		"ARK_SERVER_MAP":               mapID,
		"ARK_SERVER_SESSION_NAME":      sessionName,
		"ARK_SERVER_MAX_PLAYERS":       strconv.Itoa(int(gs.MaxPlayers)),
		"ARK_SERVER_CLUSTER_ID":        gs.ClusterID,
		"ARK_SERVER_BATTLEYE":          strconv.FormatBool(gs.Battleye),
		"ARK_SERVER_ALLOWED_PLATFORMS": strings.Join(gs.AllowedPlatforms, ","),
		"ARK_SERVER_WHITELIST":         strconv.FormatBool(gs.Whitelist),
	}
	if gs.MultihomeIP != "" {
		envs["ARK_SERVER_MULTIHOME"] = gs.MultihomeIP
	}
	if len(gs.Params) > 0 {
		envs["ARK_SERVER_PARAMS"] = strings.Join(gs.Params, ",")
	}
	if len(gs.Opts) > 0 {
		envs["ARK_SERVER_OPTS"] = strings.Join(gs.Opts, ",")
	}
	if len(gs.Mods) > 0 {
		envs["ARK_SERVER_MODS"] = strings.Join(gs.Mods, ",")
	}
	return envs
}

func (c *Composer) globalEnvs(ctx context.Context, name, namespace string) (map[string]string, error) {
	key := fmt.Sprintf("%s/%s", namespace, name)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return cloneMap(entry.value), nil
	}
	c.mu.Unlock()

	value, err := c.readConfigMap(ctx, namespace, fmt.Sprintf("%s-global-envs", name))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(globalCacheTTL)}
	c.mu.Unlock()

	return cloneMap(value), nil
}

func (c *Composer) mapEnvs(ctx context.Context, name, namespace, mapSlug string) (map[string]string, error) {
	return c.readConfigMap(ctx, namespace, fmt.Sprintf("%s-map-envs-%s", name, mapSlug))
}

func (c *Composer) readConfigMap(ctx context.Context, namespace, name string) (map[string]string, error) {
	cm, err := c.client.GetConfigMap(ctx, namespace, name)
	if err != nil {
		if arkerrors.IsNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return cloneMap(cm.Data), nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
