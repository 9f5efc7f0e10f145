package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/moby/moby/client"

	"github.com/dock-tor/dock-tor/pkg/types"
)

// DockerRuntime lists containers through the Docker Engine API. Connection
// settings come from the usual DOCKER_HOST / DOCKER_TLS_VERIFY environment.
type DockerRuntime struct{}

// ListContainers returns one ContainerRef per container known to the daemon.
func (d *DockerRuntime) ListContainers(ctx context.Context, all bool) ([]types.ContainerRef, error) {
	c, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	defer c.Close()

	list, err := c.ContainerList(ctx, client.ContainerListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	refs := make([]types.ContainerRef, 0, len(list.Items))
	for i := range list.Items {
		item := list.Items[i]
		image := item.Image
		if image == "" {
			image = item.ImageID
		}
		labels := item.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		refs = append(refs, types.ContainerRef{
			ID:             item.ID,
			Name:           containerName(item.Names, item.ID),
			Image:          image,
			Labels:         labels,
			Running:        string(item.State) == "running",
			ComposeProject: labels[types.LabelComposeProject],
		})
	}
	return refs, nil
}

// containerName strips the leading slash docker puts on container names.
func containerName(names []string, id string) string {
	if len(names) == 0 || names[0] == "" {
		if len(id) > 12 {
			return id[:12]
		}
		return id
	}
	return strings.TrimPrefix(names[0], "/")
}
