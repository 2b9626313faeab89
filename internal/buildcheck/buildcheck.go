// Package buildcheck reads the locally installed ARK Survival Ascended
// server build id from its Steam app manifest and compares it against the
// latest build published on Steam's public branch.
package buildcheck

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ARKServerAppID is the Steam app id for the ARK: Survival Ascended
// dedicated server.
const ARKServerAppID = 2430930

const cdnBranchInfoURL = "https://api.steamcmd.net/v1/info/%d"

// LocalBuildID reads steamapps/appmanifest_{appId}.acf under installDir and
// returns AppState.buildid, or (0, false) if the manifest does not exist.
func LocalBuildID(installDir string) (int64, bool, error) {
	path := filepath.Join(installDir, "steamapps", fmt.Sprintf("appmanifest_%d.acf", ARKServerAppID))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open app manifest: %w", err)
	}
	defer f.Close()

	buildID, err := parseBuildID(f)
	if err != nil {
		return 0, false, err
	}
	return buildID, true, nil
}

// parseBuildID scans a VDF (Valve Data Format) app manifest for the
// "buildid" key within "AppState". No full VDF parser ships in the
// retrieved corpus, so this is a minimal line scanner that recognizes the
// one key this package needs rather than a general KeyValues tree.
func parseBuildID(r io.Reader) (int64, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, `"buildid"`) {
			continue
		}
		fields := strings.Split(line, "\"")
		// line shape: "buildid"   "123456789"
		for i := len(fields) - 1; i >= 0; i-- {
			v := strings.TrimSpace(fields[i])
			if v == "" {
				continue
			}
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan app manifest: %w", err)
	}
	return 0, fmt.Errorf("buildid not found in app manifest")
}

type branchInfoResponse struct {
	Data map[string]struct {
		Depots struct {
			Branches map[string]struct {
				BuildID string `json:"buildid"`
			} `json:"branches"`
		} `json:"depots"`
	} `json:"data"`
}

// LatestBuildID asks the Steam CDN for the ARK server's "public" branch
// build id.
func LatestBuildID(ctx context.Context, client *http.Client) (int64, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	url := fmt.Sprintf(cdnBranchInfoURL, ARKServerAppID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build CDN request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("CDN request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("CDN request: unexpected status %d", resp.StatusCode)
	}

	var parsed branchInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode CDN response: %w", err)
	}

	app, ok := parsed.Data[strconv.Itoa(ARKServerAppID)]
	if !ok {
		return 0, fmt.Errorf("CDN response missing app %d", ARKServerAppID)
	}
	branch, ok := app.Depots.Branches["public"]
	if !ok {
		return 0, fmt.Errorf("CDN response missing public branch")
	}

	buildID, err := strconv.ParseInt(branch.BuildID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse public branch buildid: %w", err)
	}
	return buildID, nil
}

// NeedsUpdate reports whether latest is strictly newer than active.
func NeedsUpdate(active, latest int64) bool {
	return latest > active
}
