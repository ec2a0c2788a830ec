package chunkreader

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/qiangqiangyao/entwine/blob"
	"github.com/qiangqiangyao/entwine/chunk"
	"github.com/qiangqiangyao/entwine/compress"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

func readerTestSchema() schema.Schema {
	return schema.New(
		schema.Dimension{Name: schema.XDimension, Type: schema.Float64},
		schema.Dimension{Name: schema.YDimension, Type: schema.Float64},
		schema.Dimension{Name: schema.ZDimension, Type: schema.Float64},
	)
}

func readerTestBounds() point.Bounds {
	return point.Bounds{Min: point.Point{X: 0, Y: 0, Z: 0}, Max: point.Point{X: 16, Y: 16, Z: 16}}
}

func TestChunkReaderContiguousSortedByTick(t *testing.T) {
	s := readerTestSchema()
	codec := compress.NewZstdCodec()
	bounds := readerTestBounds()
	const maxPoints = int64(4)

	cd := chunk.NewContiguousChunkData(s, 0, maxPoints)
	zs := []float64{12, 2, 8, 4}
	for i, z := range zs {
		e, err := cd.GetEntry(int64(i))
		test.That(t, err, test.ShouldBeNil)
		p := point.Point{X: float64(i), Y: float64(i), Z: z}
		e.SetPointIfNull(p)
		bp := schema.NewBinaryPoint(s, e.Raw())
		bp.SetFloat64(schema.XDimension, p.X)
		bp.SetFloat64(schema.YDimension, p.Y)
		bp.SetFloat64(schema.ZDimension, p.Z)
	}

	mem := blob.NewMemorySource()
	ctx := context.Background()
	test.That(t, cd.Write(ctx, mem, codec, "0", 0, maxPoints), test.ShouldBeNil)
	raw, err := mem.Get(ctx, "0")
	test.That(t, err, test.ShouldBeNil)

	reader, err := NewChunkReader(s, codec, 0, maxPoints, bounds, raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(reader.Records()), test.ShouldEqual, len(zs))

	for i := 1; i < len(reader.Records()); i++ {
		test.That(t, reader.Records()[i].Tick >= reader.Records()[i-1].Tick, test.ShouldBeTrue)
	}
}

func TestChunkReaderCandidatesNarrowsToZRange(t *testing.T) {
	s := readerTestSchema()
	codec := compress.NewZstdCodec()
	bounds := readerTestBounds()
	const maxPoints = int64(4)

	cd := chunk.NewContiguousChunkData(s, 0, maxPoints)
	zs := []float64{1, 5, 10, 15}
	for i, z := range zs {
		e, _ := cd.GetEntry(int64(i))
		p := point.Point{X: 1, Y: 1, Z: z}
		e.SetPointIfNull(p)
		bp := schema.NewBinaryPoint(s, e.Raw())
		bp.SetFloat64(schema.XDimension, p.X)
		bp.SetFloat64(schema.YDimension, p.Y)
		bp.SetFloat64(schema.ZDimension, p.Z)
	}

	mem := blob.NewMemorySource()
	ctx := context.Background()
	test.That(t, cd.Write(ctx, mem, codec, "0", 0, maxPoints), test.ShouldBeNil)
	raw, _ := mem.Get(ctx, "0")

	reader, err := NewChunkReader(s, codec, 0, maxPoints, bounds, raw)
	test.That(t, err, test.ShouldBeNil)

	query := point.Bounds{Min: point.Point{X: 0, Y: 0, Z: 4}, Max: point.Point{X: 16, Y: 16, Z: 11}}
	begin, end := reader.Candidates(query)
	for _, rec := range reader.Records()[begin:end] {
		test.That(t, rec.Point.Z >= 4 && rec.Point.Z <= 11, test.ShouldBeTrue)
	}
	test.That(t, end-begin, test.ShouldEqual, 2)
}

func TestBaseChunkReaderIndexOrder(t *testing.T) {
	tubes := []*chunk.Tube{
		chunk.NewTube(readerTestBounds(), 24, make([]byte, 24)),
		chunk.NewTube(readerTestBounds(), 24, make([]byte, 24)),
	}
	reader := NewBaseChunkReader(5, tubes)

	tube, err := reader.Tube(6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tube, test.ShouldEqual, tubes[1])

	_, err = reader.Tube(10)
	test.That(t, err, test.ShouldNotBeNil)
}
