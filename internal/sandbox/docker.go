package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
)

// ContainerSession runs fragments in throwaway Docker containers: one
// container per Execute, network disabled, capabilities dropped, read-only
// rootfs. The session owns the Docker client; Teardown releases it.
type ContainerSession struct {
	client *client.Client
	cfg    Config
	limits Limits

	teardownOnce sync.Once
	teardownErr  error
}

// NewContainerSession creates a Docker-backed session and verifies the
// daemon is reachable and the image is present.
func NewContainerSession(ctx context.Context, cfg Config, limits Limits) (*ContainerSession, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}

	s := &ContainerSession{client: cli, cfg: cfg, limits: limits.withDefaults()}
	if err := s.ensureImage(ctx, cfg.Image); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to ensure image %s: %w", cfg.Image, err)
	}
	return s, nil
}

// Capabilities implements Session.
func (s *ContainerSession) Capabilities() Capabilities {
	return Capabilities{
		Isolate:      true,
		LimitCPU:     true,
		LimitMemory:  true,
		LimitNetwork: true,
	}
}

// Execute implements Session. The fragment is executed as a shell program
// inside a fresh container; stdout and stderr become the output channel.
func (s *ContainerSession) Execute(ctx context.Context, fragment string, _ map[string]HostFunc) (Output, error) {
	memBytes := s.limits.MemoryBytes
	if memBytes <= 0 {
		memBytes = parseMemory(s.cfg.Memory)
	}

	containerConfig := &container.Config{
		Image:           s.cfg.Image,
		Cmd:             []string{"sh", "-c", fragment},
		WorkingDir:      "/tmp",
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: true,
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   memBytes,
			NanoCPUs: parseCPU(s.cfg.CPU) * 1e9,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
			},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=100m",
		},
	}

	createResp, err := s.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Output{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := createResp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, s.limits.WallClock)
	defer cancel()

	if err := s.client.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return Output{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := s.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = s.client.ContainerKill(killCtx, containerID, "SIGKILL")
		if ctx.Err() != nil {
			// Caller cancellation, not the session's own limit.
			return Output{}, ctx.Err()
		}
		return Output{}, &LimitError{Resource: "wall_clock", Detail: s.limits.WallClock.String()}
	case err := <-errCh:
		if err != nil {
			return Output{}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := s.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	})
	if err != nil {
		return Output{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	stdout, stderr := demuxLogs(logs)
	if exitCode == 137 && s.limits.MemoryBytes > 0 {
		// OOM-killed containers exit 137; surface as a memory limit when one
		// was configured.
		return Output{Stdout: stdout}, &LimitError{Resource: "memory", Detail: units.BytesSize(float64(memBytes))}
	}
	if exitCode != 0 {
		msg := stderr
		if msg == "" {
			msg = stdout
		}
		return Output{Stdout: stdout}, fmt.Errorf("fragment exited %d: %s", exitCode, msg)
	}
	return Output{Stdout: stdout}, nil
}

// Teardown implements Session. Closes the Docker client; containers are
// removed per-execution.
func (s *ContainerSession) Teardown() error {
	s.teardownOnce.Do(func() {
		s.teardownErr = s.client.Close()
	})
	return s.teardownErr
}

func (s *ContainerSession) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := s.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}
	reader, err := s.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Drain the pull output (required for pull to complete).
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// demuxLogs separates stdout from stderr in Docker's multiplexed log
// stream: [stream type (1)][reserved (3)][size (4, big-endian)][payload].
func demuxLogs(reader io.Reader) (stdout, stderr string) {
	var stdoutParts, stderrParts []string

	for {
		header := make([]byte, 8)
		n, err := reader.Read(header)
		if n < 8 || err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		streamType := header[0]
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size <= 0 || size > 10*1024*1024 {
			continue
		}

		payload := make([]byte, size)
		if n, err := io.ReadFull(reader, payload); n != size || err != nil {
			break
		}

		content := strings.TrimSuffix(string(payload), "\n")
		switch streamType {
		case 1:
			stdoutParts = append(stdoutParts, content)
		case 2:
			stderrParts = append(stderrParts, content)
		}
	}

	return strings.Join(stdoutParts, "\n"), strings.Join(stderrParts, "\n")
}

// parseMemory parses a memory string like "1g" or "512m" to bytes.
func parseMemory(memStr string) int64 {
	memStr = strings.ToLower(strings.TrimSpace(memStr))
	if memStr == "" {
		return 512 * 1024 * 1024
	}
	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(memStr, "g"):
		multiplier = 1024 * 1024 * 1024
		memStr = strings.TrimSuffix(memStr, "g")
	case strings.HasSuffix(memStr, "m"):
		multiplier = 1024 * 1024
		memStr = strings.TrimSuffix(memStr, "m")
	case strings.HasSuffix(memStr, "k"):
		multiplier = 1024
		memStr = strings.TrimSuffix(memStr, "k")
	}
	var value int64
	fmt.Sscanf(memStr, "%d", &value)
	if value <= 0 {
		return 512 * 1024 * 1024
	}
	return value * multiplier
}

// parseCPU parses a CPU string like "2" or "1.5" to whole CPUs.
func parseCPU(cpuStr string) int64 {
	cpuStr = strings.TrimSpace(cpuStr)
	if cpuStr == "" {
		return 1
	}
	var value float64
	fmt.Sscanf(cpuStr, "%f", &value)
	if value <= 0 {
		return 1
	}
	return int64(value)
}
