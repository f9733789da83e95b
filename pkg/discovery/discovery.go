// Package discovery finds containers on the local filesystem: the
// source of truth for what the Ingestion Scheduler tails. A reachable
// Docker daemon is consulted only as a best-effort enrichment for
// friendlier names and compose metadata.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// Container is one discovered log source.
type Container struct {
	ID      string // full directory/container id
	Name    string // short name, leading slash stripped
	LogPath string // absolute path to {ID}/{ID}-json.log
	Image   string // best-effort, from Docker API
	Project string // docker-compose project label, if any
	Service string // docker-compose service label, if any
}

type configV2 struct {
	Name string `json:"Name"`
}

// Discover scans sourceDir for {ID}/{ID}-json.log files and resolves
// each container's short name from the sibling config.v2.json. When
// allow is non-empty, only containers whose resolved name is in allow
// are returned. Results are sorted by container id for the stable
// lexical order the Scheduler requires.
func Discover(sourceDir string, allow map[string]struct{}) ([]Container, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("discovery: read %s: %w", sourceDir, err)
	}

	var out []Container
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		logPath := filepath.Join(sourceDir, id, id+"-json.log")
		if _, err := os.Stat(logPath); err != nil {
			continue
		}
		name := resolveName(sourceDir, id)
		if len(allow) > 0 {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		out = append(out, Container{ID: id, Name: name, LogPath: logPath})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func resolveName(sourceDir, id string) string {
	data, err := os.ReadFile(filepath.Join(sourceDir, id, "config.v2.json"))
	if err != nil {
		return id
	}
	var cfg configV2
	if err := json.Unmarshal(data, &cfg); err != nil || cfg.Name == "" {
		return id
	}
	return strings.TrimPrefix(cfg.Name, "/")
}

// DockerEnricher looks up compose project/service and image metadata
// from a running Docker daemon, when one is reachable. Its absence is
// never fatal: the filesystem remains the source of truth.
type DockerEnricher struct {
	cli *client.Client
}

// NewDockerEnricher connects to the Docker daemon described by the
// standard DOCKER_HOST environment, returning an error only the caller
// chooses whether to treat as fatal (it shouldn't: enrichment is
// optional).
func NewDockerEnricher() (*DockerEnricher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("discovery: docker client: %w", err)
	}
	return &DockerEnricher{cli: cli}, nil
}

// Enrich fills in Image/Project/Service on any of containers whose id
// matches a running container reported by the daemon. Containers that
// can't be matched (daemon unreachable, container not running, id
// mismatch) are left untouched.
func (e *DockerEnricher) Enrich(ctx context.Context, containers []Container) {
	if e == nil || e.cli == nil {
		return
	}
	running, err := e.cli.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return
	}

	byID := make(map[string]types.Container, len(running))
	for _, c := range running {
		byID[c.ID] = c
	}

	for i := range containers {
		c, ok := byID[containers[i].ID]
		if !ok {
			continue
		}
		containers[i].Image = c.Image
		if c.Labels != nil {
			containers[i].Project = c.Labels["com.docker.compose.project"]
			containers[i].Service = c.Labels["com.docker.compose.service"]
		}
	}
}

func (e *DockerEnricher) Close() error {
	if e == nil || e.cli == nil {
		return nil
	}
	return e.cli.Close()
}
