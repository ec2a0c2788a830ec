// Package metadata defines the JSON envelope persisted alongside a
// dataset's cold chunks: its schema, structure parameters, output bounds,
// and the set of chunk ids a reader needs to load.
package metadata

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/qiangqiangyao/entwine/blob"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

// name is the fixed blob key metadata is stored under, sibling to the
// dataset's chunk blobs.
const name = "entwine.json"

// StructureParams is the JSON-serializable form of an octree.Structure's
// constructor arguments; Meta stores these rather than a *octree.Structure
// itself so a reader can reconstruct the Structure without this package
// depending on octree.
type StructureParams struct {
	BaseDepthBegin int  `json:"baseDepthBegin"`
	BaseDepthEnd   int  `json:"baseDepthEnd"`
	ColdDepthBegin int  `json:"coldDepthBegin"`
	ColdDepthEnd   int  `json:"coldDepthEnd"`
	ColdUnbounded  bool `json:"coldUnbounded"`
}

// Meta is the persisted description of one indexed dataset.
type Meta struct {
	Schema    []schema.Dimension `json:"schema"`
	Structure StructureParams    `json:"structure"`
	Bounds    point.Bounds       `json:"bounds"`
	ChunkIDs  []int64            `json:"chunkIds"`
}

// Save marshals m and stores it under this package's fixed blob name.
func Save(ctx context.Context, source blob.Source, m Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshaling metadata")
	}
	if err := source.Put(ctx, name, b); err != nil {
		return errors.Wrap(err, "writing metadata blob")
	}
	return nil
}

// Load fetches and unmarshals the metadata blob written by Save.
func Load(ctx context.Context, source blob.Source) (Meta, error) {
	b, err := source.Get(ctx, name)
	if err != nil {
		return Meta{}, errors.Wrap(err, "fetching metadata blob")
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, errors.Wrap(err, "unmarshaling metadata")
	}
	return m, nil
}
