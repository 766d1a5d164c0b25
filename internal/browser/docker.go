package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// DockerLauncher runs each instance as a browserless/chrome container and
// attaches playwright to it over CDP. Useful when the server host should not
// run Chromium directly.
type DockerLauncher struct {
	cli   *client.Client
	pw    *playwright.Playwright
	image string
}

// NewDockerLauncher creates a launcher backed by the local Docker daemon.
func NewDockerLauncher(image string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	opts := &playwright.RunOptions{Verbose: false, Stdout: io.Discard, Stderr: io.Discard}
	if err := playwright.Install(opts); err != nil {
		return nil, errors.Wrap(err, "install playwright")
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, errors.Wrap(err, "start playwright")
	}
	return &DockerLauncher{cli: cli, pw: pw, image: image}, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (l *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return errors.Wrap(err, "list images")
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	reader, err := l.cli.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return errors.Wrap(err, "pull image")
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Launch starts a container, waits for its CDP endpoint, and connects.
func (l *DockerLauncher) Launch(ctx context.Context) (Instance, error) {
	instanceID := uuid.New().String()

	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			"instance-id": instanceID,
			"managed-by":  "postwing",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
		AutoRemove: false,
	}

	resp, err := l.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil,
		fmt.Sprintf("postwing-%s", instanceID[:8]))
	if err != nil {
		return nil, errors.Wrap(err, "create container")
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, errors.Wrap(err, "start container")
	}

	inspect, err := l.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.stopContainer(resp.ID)
		return nil, errors.Wrap(err, "inspect container")
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		l.stopContainer(resp.ID)
		return nil, errors.New("container has no published CDP port")
	}
	port := bindings[0].HostPort

	if err := waitForBrowserReady(ctx, port); err != nil {
		l.stopContainer(resp.ID)
		return nil, errors.Wrap(err, "browser failed to become ready")
	}

	browser, err := l.pw.Chromium.ConnectOverCDP(fmt.Sprintf("ws://localhost:%s", port))
	if err != nil {
		l.stopContainer(resp.ID)
		return nil, errors.Wrap(err, "connect over cdp")
	}

	containerID := resp.ID
	return newStealthInstance(browser, func() error {
		return l.stopContainer(containerID)
	})
}

// Shutdown stops the playwright driver and the docker client.
func (l *DockerLauncher) Shutdown() error {
	err := l.pw.Stop()
	if cerr := l.cli.Close(); err == nil {
		err = cerr
	}
	return err
}

func (l *DockerLauncher) stopContainer(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 10
	if err := l.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return errors.Wrap(err, "stop container")
	}
	if err := l.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return errors.Wrap(err, "remove container")
	}
	return nil
}

// waitForBrowserReady polls the /json/version endpoint until the CDP socket
// is accepting connections.
func waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	const maxRetries = 20

	for i := 0; i < maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				// give the WebSocket endpoint a moment to come up too
				time.Sleep(500 * time.Millisecond)
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return errors.Newf("browser not ready after %d retries", maxRetries)
}
