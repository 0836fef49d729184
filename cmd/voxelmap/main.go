// Command voxelmap replays recorded point-cloud CSV files into an
// occupancy map, reports exploration coverage, and optionally writes the
// occupied-voxel dump and a snapshot to the map database.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volumetric.map/internal/config"
	"github.com/banshee-data/volumetric.map/internal/monitoring"
	"github.com/banshee-data/volumetric.map/internal/version"
	"github.com/banshee-data/volumetric.map/internal/voxel"
	"github.com/banshee-data/volumetric.map/internal/voxeldb"
)

var (
	cloudFile  = flag.String("cloud", "", "CSV file of world-frame points, one x,y,z per line")
	originFlag = flag.String("origin", "0,0,0", "Sensor origin for the replayed cloud, x,y,z")
	configFile = flag.String("config", "", "Optional JSON tuning file (see internal/config)")
	regionFlag = flag.String("region", "", "Exploration scoring region, minx,miny,minz,maxx,maxy,maxz")
	batchSize  = flag.Int("batch", 50000, "Points fused per batch")
	exportFile = flag.String("export", "", "Write occupied-voxel CSV dump to this file")
	dbFile     = flag.String("db", "", "SQLite snapshot database (omit to skip persistence)")
	sensorID   = flag.String("sensor-id", "replay", "Sensor ID recorded with persisted snapshots")
	retainFor  = flag.Duration("retain", 0, "Drop this sensor's snapshots older than this age after persisting (0 keeps all)")
	verbose    = flag.Bool("v", false, "Verbose per-batch diagnostics")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("voxelmap %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *cloudFile == "" {
		log.Fatal("[voxelmap] -cloud is required")
	}
	monitoring.Debug = *verbose

	var tuning *config.TuningConfig
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("[voxelmap] load config: %v", err)
		}
	}
	params := tuning.MapParams()

	m, err := voxel.NewVoxelMap(params)
	if err != nil {
		log.Fatalf("[voxelmap] build map: %v", err)
	}

	if *regionFlag != "" {
		min, max, err := parseRegion(*regionFlag)
		if err != nil {
			log.Fatalf("[voxelmap] parse region: %v", err)
		}
		m.SetExplorationRegion(min, max)
	}

	origin, err := parseVec(*originFlag)
	if err != nil {
		log.Fatalf("[voxelmap] parse origin: %v", err)
	}

	points, err := readCloud(*cloudFile)
	if err != nil {
		log.Fatalf("[voxelmap] read cloud: %v", err)
	}
	log.Printf("[voxelmap] loaded %d points from %s", len(points), *cloudFile)

	start := time.Now()
	for i := 0; i < len(points); i += *batchSize {
		end := i + *batchSize
		if end > len(points) {
			end = len(points)
		}
		m.IngestSensorCloud(origin, points[i:end], params.SensorMaxRange, params.MaxFreeSpace, params.MinHeightFreeSpace)
		if *verbose {
			log.Printf("[voxelmap] fused batch %d-%d, %d voxels mapped", i, end, m.Size())
		}
	}
	log.Printf("[voxelmap] fused %d points into %d voxels in %s", len(points), m.Size(), time.Since(start).Round(time.Millisecond))

	stats := m.ExplorationStats(time.Now())
	log.Printf("[voxelmap] explored fraction %.4f (rate %.6f/s, elapsed %.1fs)", stats.Fraction, stats.Rate, stats.ElapsedTime)

	if *exportFile != "" {
		f, err := os.Create(*exportFile)
		if err != nil {
			log.Fatalf("[voxelmap] create export file: %v", err)
		}
		if err := m.WriteOccupiedCSV(f); err != nil {
			f.Close()
			log.Fatalf("[voxelmap] export: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("[voxelmap] close export file: %v", err)
		}
		log.Printf("[voxelmap] wrote occupied-voxel dump to %s", *exportFile)
	}

	if *dbFile != "" {
		store, err := voxeldb.Open(*dbFile)
		if err != nil {
			log.Fatalf("[voxelmap] open snapshot db: %v", err)
		}
		defer store.Close()

		blob, err := m.Snapshot()
		if err != nil {
			log.Fatalf("[voxelmap] snapshot: %v", err)
		}
		id, err := store.InsertSnapshot(*sensorID, m.Resolution(), m.Size(), "replay", blob)
		if err != nil {
			log.Fatalf("[voxelmap] persist snapshot: %v", err)
		}
		log.Printf("[voxelmap] persisted snapshot %s (%d bytes)", id, len(blob))

		if *retainFor > 0 {
			cutoff := time.Now().Add(-*retainFor).UnixNano()
			n, err := store.DeleteOlderThan(*sensorID, cutoff)
			if err != nil {
				log.Fatalf("[voxelmap] prune snapshots: %v", err)
			}
			if n > 0 {
				log.Printf("[voxelmap] pruned %d snapshots older than %s", n, *retainFor)
			}
		}
	}
}

// readCloud parses one x,y,z point per line, skipping blank lines and
// lines starting with '#'.
func readCloud(path string) ([]r3.Vec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []r3.Vec
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := parseVec(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		points = append(points, p)
	}
	return points, sc.Err()
}

func parseVec(s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, fmt.Errorf("expected x,y,z got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vec{}, fmt.Errorf("bad coordinate %q: %w", p, err)
		}
		v[i] = f
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseRegion(s string) (r3.Vec, r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("expected 6 comma-separated values, got %q", s)
	}
	var v [6]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vec{}, r3.Vec{}, fmt.Errorf("bad bound %q: %w", p, err)
		}
		v[i] = f
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, r3.Vec{X: v[3], Y: v[4], Z: v[5]}, nil
}
