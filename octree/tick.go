package octree

import "github.com/qiangqiangyao/entwine/point"

// tickResolution is the number of discrete vertical buckets the Z span of
// CalcTick's bounds is divided into, at any depth. Ticks only need to distinguish points that
// share a cell's (x, y) footprint but differ in Z, so a fixed, depth
// independent resolution keeps CalcTick allocation-free and branch-light.
const tickResolution = 1 << 20

// CalcTick discretizes p's Z coordinate within bounds' vertical span into an
// integer "tick". Points sharing an (x, y) cell at a given depth are
// distinguished by comparing ticks, not raw Z, so that ChunkReader.Candidates
// can binary-search a tick-sorted array instead of scanning by Z.
func CalcTick(p point.Point, bounds point.Bounds) int64 {
	height := bounds.Max.Z - bounds.Min.Z
	if height <= 0 {
		return 0
	}
	frac := (p.Z - bounds.Min.Z) / height
	tick := int64(frac * float64(tickResolution))
	if tick < 0 {
		return 0
	}
	if tick >= tickResolution {
		return tickResolution - 1
	}
	return tick
}
