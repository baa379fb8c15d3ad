// rolloff-plot renders the volume and width attenuation curves of a sound
// instance to PNG files.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/soundfield/internal/monitor"
)

func main() {
	defaults := monitor.DefaultCurveParams()
	out := flag.String("out", "plots", "Output directory")
	volume := flag.Float64("volume", defaults.Volume, "Base volume")
	minDist := flag.Float64("min-distance", defaults.MinRolloffDistance, "Minimum rolloff distance")
	maxDist := flag.Float64("max-distance", defaults.MaxDistance, "Maximum distance")
	width := flag.Float64("width", defaults.Width, "Base width")
	samples := flag.Int("samples", defaults.Samples, "Samples per curve")
	flag.Parse()

	if err := os.MkdirAll(*out, 0755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}
	params := monitor.CurveParams{
		Volume:             *volume,
		MinRolloffDistance: *minDist,
		MaxDistance:        *maxDist,
		Width:              *width,
		Samples:            *samples,
	}
	volPath := filepath.Join(*out, "rolloff.png")
	widthPath := filepath.Join(*out, "width.png")
	if err := monitor.RenderCurves(volPath, widthPath, params); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s and %s", volPath, widthPath)
}
