// imagefeat loads camera frames, resizes them and prints per-channel mean
// intensities, the image-derived features that can accompany a flow series.
//
// Usage:
//
//	imagefeat frames/*.jpg
//	imagefeat -size 112 -csv frames/cam1.png frames/cam2.png
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"traffic_forecaster/internal/imageio"
)

func main() {
	size := flag.Int("size", imageio.DefaultSize, "square target size in pixels")
	csvOut := flag.Bool("csv", false, "output as CSV")
	skipBad := flag.Bool("skip-bad", false, "report unreadable images and continue")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: imagefeat [flags] image...")
		os.Exit(1)
	}

	if *csvOut {
		fmt.Println("path,mean_r,mean_g,mean_b")
	} else {
		fmt.Printf("%-40s  %7s  %7s  %7s\n", "Image", "R", "G", "B")
		fmt.Printf("%-40s  %7s  %7s  %7s\n", "----------------------------------------", "-------", "-------", "-------")
	}

	failed := 0
	for _, p := range paths {
		img, err := imageio.Load(p, *size, *size)
		if err != nil {
			var ie *imageio.ImageError
			if *skipBad && errors.As(err, &ie) {
				fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", ie.Path, ie.Err)
				failed++
				continue
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		m := img.ChannelMeans()
		if *csvOut {
			fmt.Printf("%s,%.4f,%.4f,%.4f\n", p, m[0], m[1], m[2])
		} else {
			fmt.Printf("%-40s  %7.4f  %7.4f  %7.4f\n", p, m[0], m[1], m[2])
		}
	}

	if failed == len(paths) {
		os.Exit(1)
	}
}
