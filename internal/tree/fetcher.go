// Package tree expands the folders of a space into a nested node tree.
package tree

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

// Node is a space node with its descendants resolved. Children is never nil,
// so leaves serialise as an empty list.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Icon     string `json:"icon"`
	Children []Node `json:"children"`
}

// NodeGetter fetches a node's detail, including the direct children of a
// folder.
type NodeGetter interface {
	GetNode(ctx context.Context, spaceID, nodeID string) (vika.Node, error)
}

// Fetcher walks the folder hierarchy of a space. Each folder fetch is
// preceded by a delay of one second divided by the quota, keeping the walk
// within the upstream rate limit.
type Fetcher struct {
	nodes NodeGetter
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(nodes NodeGetter, quota int) *Fetcher {
	var delay time.Duration
	if quota > 0 {
		delay = time.Second / time.Duration(quota)
	}

	return &Fetcher{
		nodes: nodes,
		delay: delay,
		sleep: sleepContext,
	}
}

// Fetch resolves the given nodes into trees. Siblings are fetched in order.
// Any failure to fetch a folder aborts the whole walk.
func (f *Fetcher) Fetch(ctx context.Context, spaceID string, nodes []vika.Node) ([]Node, error) {
	result := make([]Node, 0, len(nodes))

	for _, n := range nodes {
		node := Node{
			ID:       n.ID,
			Name:     n.Name,
			Type:     n.Type,
			Icon:     n.Icon,
			Children: []Node{},
		}

		if n.Type == vika.NodeTypeFolder {
			children, err := f.folder(ctx, spaceID, n.ID)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}

		result = append(result, node)
	}

	return result, nil
}

func (f *Fetcher) folder(ctx context.Context, spaceID, folderID string) ([]Node, error) {
	if f.delay > 0 {
		if err := f.sleep(ctx, f.delay); err != nil {
			return nil, err
		}
	}

	detail, err := f.nodes.GetNode(ctx, spaceID, folderID)
	if err != nil {
		return nil, fmt.Errorf("fetching folder %s: %w", folderID, err)
	}

	log.Ctx(ctx).Debug().
		Str("node_id", folderID).
		Int("children", len(detail.Children)).
		Msg("tree: folder fetched")

	if len(detail.Children) == 0 {
		return []Node{}, nil
	}

	return f.Fetch(ctx, spaceID, detail.Children)
}

// Datasheets flattens a tree into its datasheet nodes, in depth-first order.
func Datasheets(nodes []Node) []vika.Node {
	datasheets := []vika.Node{}
	for _, n := range nodes {
		if n.Type == vika.NodeTypeDatasheet {
			datasheets = append(datasheets, vika.Node{ID: n.ID, Name: n.Name, Type: n.Type, Icon: n.Icon})
		}
		datasheets = append(datasheets, Datasheets(n.Children)...)
	}
	return datasheets
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
