package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/cache"
	"github.com/vikabridge/vika-bridge/internal/tree"
	"github.com/vikabridge/vika-bridge/internal/vika"
	"golang.org/x/sync/errgroup"
)

func (s *Service) ListSpaces(ctx context.Context) Result[[]vika.Space] {
	return read(ctx, s, cache.NewKey(cache.OpSpaces), s.ages.Metadata, "list spaces", func(ctx context.Context, c Upstream) ([]vika.Space, error) {
		return c.ListSpaces(ctx)
	})
}

func (s *Service) GetSpace(ctx context.Context, spaceID string) Result[vika.Space] {
	return read(ctx, s, cache.NewKey(cache.OpSpace, spaceID), s.ages.Metadata, "get space", func(ctx context.Context, c Upstream) (vika.Space, error) {
		return c.GetSpace(ctx, spaceID)
	})
}

// DatasheetTree returns the full node tree of a space, expanding every
// folder. The tree is cached as a whole.
func (s *Service) DatasheetTree(ctx context.Context, spaceID string) Result[[]tree.Node] {
	key := cache.NewKey(cache.OpNodeTree, spaceID)

	return read(ctx, s, key, s.ages.Metadata, "fetch datasheet tree", func(ctx context.Context, c Upstream) ([]tree.Node, error) {
		nodes, err := s.walkTree(ctx, c, spaceID)
		if err != nil {
			return nil, err
		}

		log.Ctx(ctx).Info().
			Str("space_id", spaceID).
			Int("root_nodes", len(nodes)).
			Msg("datasheet tree fetched")

		return nodes, nil
	})
}

func (s *Service) walkTree(ctx context.Context, c Upstream, spaceID string) ([]tree.Node, error) {
	top, err := c.ListNodes(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	return tree.NewFetcher(c, s.limiter.Quota()).Fetch(ctx, spaceID, top)
}

func (s *Service) Views(ctx context.Context, datasheetID string) Result[[]vika.View] {
	return read(ctx, s, cache.NewKey(cache.OpViews, datasheetID), s.ages.Metadata, "list views", func(ctx context.Context, c Upstream) ([]vika.View, error) {
		return c.ListViews(ctx, datasheetID)
	})
}

func (s *Service) Fields(ctx context.Context, datasheetID string) Result[[]vika.Field] {
	return read(ctx, s, cache.NewKey(cache.OpFields, datasheetID), s.ages.Metadata, "list fields", func(ctx context.Context, c Upstream) ([]vika.Field, error) {
		return c.ListFields(ctx, datasheetID)
	})
}

// SpaceConfiguration aggregates a space with the views and fields of each of
// its datasheets.
type SpaceConfiguration struct {
	Space      vika.Space               `json:"space"`
	Datasheets []DatasheetConfiguration `json:"datasheets"`
}

type DatasheetConfiguration struct {
	vika.Node
	Views  []vika.View  `json:"views"`
	Fields []vika.Field `json:"fields"`
}

// SpaceConfiguration fetches the space and its node tree concurrently, then
// the metadata of every datasheet in the tree (including those inside
// folders) concurrently. A datasheet whose
// metadata cannot be fetched is reported with empty views and fields.
func (s *Service) SpaceConfiguration(ctx context.Context, spaceID string) Result[SpaceConfiguration] {
	key := cache.NewKey(cache.OpSpaceConfig, spaceID)

	return read(ctx, s, key, s.ages.SpaceConfig, "fetch space configuration", func(ctx context.Context, c Upstream) (SpaceConfiguration, error) {
		var (
			space      vika.Space
			datasheets []vika.Node
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			space, err = c.GetSpace(gctx, spaceID)
			return err
		})
		g.Go(func() error {
			nodes, err := s.walkTree(gctx, c, spaceID)
			if err != nil {
				return err
			}
			datasheets = tree.Datasheets(nodes)
			return nil
		})
		if err := g.Wait(); err != nil {
			return SpaceConfiguration{}, err
		}

		details := make([]DatasheetConfiguration, len(datasheets))

		var all errgroup.Group
		for i, ds := range datasheets {
			all.Go(func() error {
				details[i] = datasheetConfiguration(ctx, c, ds)
				return nil
			})
		}
		_ = all.Wait()

		log.Ctx(ctx).Info().
			Str("space_id", spaceID).
			Int("datasheets", len(details)).
			Msg("space configuration fetched")

		return SpaceConfiguration{Space: space, Datasheets: details}, nil
	})
}

func datasheetConfiguration(ctx context.Context, c Upstream, ds vika.Node) DatasheetConfiguration {
	var (
		views  []vika.View
		fields []vika.Field
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		views, err = c.ListViews(gctx, ds.ID)
		return err
	})
	g.Go(func() error {
		var err error
		fields, err = c.ListFields(gctx, ds.ID)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("datasheet_id", ds.ID).
			Msg("datasheet metadata unavailable, reporting empty views and fields")
		views, fields = nil, nil
	}

	if views == nil {
		views = []vika.View{}
	}
	if fields == nil {
		fields = []vika.Field{}
	}

	return DatasheetConfiguration{Node: ds, Views: views, Fields: fields}
}
