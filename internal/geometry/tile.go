package geometry

import "math"

// Tile represents a single tile coordinate in the XYZ scheme
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// TileX converts longitude to a tile column at the given zoom
func TileX(lon float64, zoom int) int {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	return clampTile(x, zoom)
}

// TileY converts latitude to a tile row at the given zoom using the
// Web Mercator inverse projection
func TileY(lat float64, zoom int) int {
	n := math.Pow(2, float64(zoom))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))
	return clampTile(y, zoom)
}

// TileToLatLon converts tile coordinates back to the lat/lon of the tile's
// northwest corner
func TileToLatLon(x, y, zoom int) (lat, lon float64) {
	n := math.Pow(2, float64(zoom))
	lon = float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}

func clampTile(v, zoom int) int {
	maxTile := (1 << zoom) - 1
	if v < 0 {
		return 0
	}
	if v > maxTile {
		return maxTile
	}
	return v
}

// tileRange returns the inclusive column/row bounds covering bbox at one zoom.
// Tile Y grows southward, so the north edge gives minY.
func tileRange(bbox BoundingBox, zoom int) (minX, minY, maxX, maxY int) {
	minX = TileX(bbox.West, zoom)
	maxX = TileX(bbox.East, zoom)
	minY = TileY(bbox.North, zoom)
	maxY = TileY(bbox.South, zoom)
	return
}

// TilesForBounds enumerates every tile covering bbox across the inclusive
// zoom range, ordered by zoom, then column, then row
func TilesForBounds(bbox BoundingBox, minZoom, maxZoom int) []Tile {
	tiles := make([]Tile, 0, TileCount(bbox, minZoom, maxZoom))
	for z := minZoom; z <= maxZoom; z++ {
		minX, minY, maxX, maxY := tileRange(bbox, z)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				tiles = append(tiles, Tile{X: x, Y: y, Z: z})
			}
		}
	}
	return tiles
}

// TileCount returns the number of tiles covering bbox across the inclusive
// zoom range. A degenerate range (minZoom > maxZoom) counts zero tiles.
func TileCount(bbox BoundingBox, minZoom, maxZoom int) int {
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		minX, minY, maxX, maxY := tileRange(bbox, z)
		total += (maxX - minX + 1) * (maxY - minY + 1)
	}
	return total
}

// EstimateDownloadSize estimates the download size in MB based on an average
// tile size of ~15KB for raster tiles
func EstimateDownloadSize(tileCount int) float64 {
	avgTileSizeKB := 15.0
	return float64(tileCount) * avgTileSizeKB / 1024.0
}

// Batch groups tiles into batches for concurrency-limited processing
func Batch(tiles []Tile, batchSize int) [][]Tile {
	if batchSize <= 0 {
		batchSize = 10
	}

	batches := make([][]Tile, 0)
	for i := 0; i < len(tiles); i += batchSize {
		end := i + batchSize
		if end > len(tiles) {
			end = len(tiles)
		}
		batches = append(batches, tiles[i:end])
	}

	return batches
}
