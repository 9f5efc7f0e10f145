package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/dock-tor/dock-tor/pkg/config"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// ErrInventoryUnavailable means the container runtime could not be listed.
// A partial inventory is never returned alongside it.
var ErrInventoryUnavailable = errors.New("container inventory unavailable")

// Runtime lists containers known to the container engine.
type Runtime interface {
	// ListContainers returns running containers, or every container when all is set.
	ListContainers(ctx context.Context, all bool) ([]types.ContainerRef, error)
}

// Options controls which containers the resolver returns.
type Options struct {
	Scope          config.Scope
	OnlyRunning    bool
	Exclude        config.Label
	ComposeService string // service name used to find our own compose project
	SelfID         string // our own container ID (or prefix); never scanned
}

// OptionsFromSettings picks the resolver options out of the process settings.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		Scope:          s.Scope,
		OnlyRunning:    s.OnlyRunning,
		Exclude:        s.Exclude,
		ComposeService: s.ComposeService,
		SelfID:         s.SelfID,
	}
}

// Resolution is the eligible container set plus how it was selected.
type Resolution struct {
	Containers     []types.ContainerRef
	Scope          config.Scope // scope actually applied
	ComposeProject string
	// ScopeFallback is set when COMPOSE was requested but the project could
	// not be determined and every container was considered instead.
	ScopeFallback bool
	Excluded      []types.ContainerRef
}

// Resolver turns a runtime snapshot into the containers eligible for scanning.
type Resolver struct {
	runtime Runtime
	opts    Options
}

// NewResolver returns a resolver over rt.
func NewResolver(rt Runtime, opts Options) *Resolver {
	return &Resolver{runtime: rt, opts: opts}
}

// Resolve lists containers once and applies scope and exclusion rules, in
// runtime order.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	all, err := r.runtime.ListContainers(ctx, !r.opts.OnlyRunning)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInventoryUnavailable, err)
	}

	var self *types.ContainerRef
	containers := make([]types.ContainerRef, 0, len(all))
	for i := range all {
		if isSelf(all[i].ID, r.opts.SelfID) {
			self = &all[i]
			continue
		}
		if r.opts.OnlyRunning && !all[i].Running {
			continue
		}
		containers = append(containers, all[i])
	}

	res := &Resolution{Scope: config.ScopeAll}
	if r.opts.Scope == config.ScopeCompose {
		project := composeProject(self, containers, r.opts.ComposeService)
		if project == "" {
			slog.Warn("SCAN_SCOPE=COMPOSE set but compose project label could not be determined; scanning all containers instead")
			res.ScopeFallback = true
		} else {
			res.Scope = config.ScopeCompose
			res.ComposeProject = project
			containers = lo.Filter(containers, func(c types.ContainerRef, _ int) bool {
				return c.Labels[types.LabelComposeProject] == project
			})
		}
	}

	res.Containers, res.Excluded = lo.FilterReject(containers, func(c types.ContainerRef, _ int) bool {
		return !Excluded(c.Labels, r.opts.Exclude)
	})
	for _, c := range res.Excluded {
		slog.Debug("container excluded by label", "container", c.Name, "image", c.Image)
	}
	return res, nil
}

// composeProject finds the compose project this process belongs to: first
// from its own container, then from any container running the configured
// compose service.
func composeProject(self *types.ContainerRef, containers []types.ContainerRef, service string) string {
	if self != nil && self.Labels[types.LabelComposeProject] != "" {
		return self.Labels[types.LabelComposeProject]
	}
	if service == "" {
		return ""
	}
	for _, c := range containers {
		if c.Labels[types.LabelComposeService] == service && c.Labels[types.LabelComposeProject] != "" {
			return c.Labels[types.LabelComposeProject]
		}
	}
	return ""
}

// isSelf matches a container ID against our own ID, which may be the short
// form docker uses for $HOSTNAME.
func isSelf(id, selfID string) bool {
	return selfID != "" && strings.HasPrefix(id, selfID)
}
