package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tileforge/mbtiles-tool/mbtiles"
)

const helpText = `Usage: mbtiles-tool [COMMAND] [ARGS]

Ingesting a tile directory:
mbtiles-tool convert INPUT_DIR OUTPUT.mbtiles

Partitioning an archive:
mbtiles-tool subdivide CONFIG.json INPUT.mbtiles OUTPUT_DIR

Synthesizing higher zoom levels:
mbtiles-tool overzoom -t ZOOM INPUT.mbtiles OUTPUT.mbtiles

Summarizing tile sizes:
mbtiles-tool statistics INPUT.mbtiles`

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	if len(os.Args) < 2 {
		fmt.Println(helpText)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		if len(os.Args) != 4 {
			logger.Println("USAGE: convert INPUT_DIR OUTPUT.mbtiles")
			os.Exit(1)
		}
		if err := mbtiles.Convert(logger, os.Args[2], os.Args[3]); err != nil {
			logger.Fatalf("Failed to convert directory, %v", err)
		}
	case "subdivide":
		if len(os.Args) != 5 {
			logger.Println("USAGE: subdivide CONFIG.json INPUT.mbtiles OUTPUT_DIR")
			os.Exit(1)
		}
		cfg, err := mbtiles.LoadSubdivideConfig(os.Args[2])
		if err != nil {
			logger.Fatalf("Failed to load subdivide config, %v", err)
		}
		if err := mbtiles.Subdivide(logger, os.Args[3], os.Args[4], cfg); err != nil {
			logger.Fatalf("Failed to subdivide archive, %v", err)
		}
	case "overzoom":
		overzoomCmd := flag.NewFlagSet("overzoom", flag.ExitOnError)
		targetZoom := overzoomCmd.Uint("t", 0, "zoom level to synthesize tiles down to")
		overzoomCmd.Parse(os.Args[2:])
		if overzoomCmd.NArg() != 2 {
			logger.Println("USAGE: overzoom -t ZOOM INPUT.mbtiles OUTPUT.mbtiles")
			os.Exit(1)
		}
		if err := mbtiles.Overzoom(logger, overzoomCmd.Arg(0), overzoomCmd.Arg(1), uint32(*targetZoom)); err != nil {
			logger.Fatalf("Failed to overzoom archive, %v", err)
		}
	case "statistics":
		if len(os.Args) != 3 {
			logger.Println("USAGE: statistics INPUT.mbtiles")
			os.Exit(1)
		}
		stats, err := mbtiles.ComputeStatistics(os.Args[2])
		if err != nil {
			logger.Fatalf("Failed to compute statistics, %v", err)
		}
		printStatistics(stats)
	default:
		fmt.Println(helpText)
		os.Exit(1)
	}
}

func printStatistics(stats *mbtiles.Statistics) {
	fmt.Println("zoom\tcount\tmin\tmax\tavg")
	for _, z := range stats.ZoomLevels {
		fmt.Printf("%d\t%d\t%d\t%d\t%.1f\n", z.Zoom, z.Count, z.MinBytes, z.MaxBytes, z.AvgBytes)
	}

	fmt.Println("\nlarge tiles:")
	fmt.Println("zoom\tx\ty\tbytes\tthreshold")
	for _, lt := range stats.LargeTiles {
		fmt.Printf("%d\t%d\t%d\t%d\t%d\n", lt.Zoom, lt.X, lt.Y, lt.Bytes, lt.Threshold)
	}
}
