// sendplate segments a licence plate photo into glyphs, posts each glyph as
// a raw 64x64 frame to a /predict endpoint and prints the assembled plate.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/handlers"
)

const classes = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func main() {
	url := flag.String("url", "http://localhost:8080/predict", "predict endpoint")
	timeout := flag.Duration("timeout", 5*time.Second, "per request timeout")
	debugDir := flag.String("debug-dir", "", "write every 64x64 frame as PNG into this directory")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] plate.png\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *url, *debugDir, &http.Client{Timeout: *timeout}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path, url, debugDir string, client *http.Client) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	if debugDir != "" {
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return err
		}
	}

	plate := frame.Segment(img, frame.DefaultSegmentOptions)
	if len(plate.Glyphs) == 0 {
		return fmt.Errorf("no glyphs found in %s", path)
	}

	var (
		result string
		lines  []string
	)
	bar := pb.StartNew(len(plate.Glyphs))
	for i := range plate.Glyphs {
		fr, err := frame.FromImage(plate.Glyph(i), frame.DefaultFitOptions)
		bar.Increment()
		if err != nil {
			lines = append(lines, fmt.Sprintf("glyph %d: %v", i+1, err))
			continue
		}
		if debugDir != "" {
			if err := writePNG(filepath.Join(debugDir, fmt.Sprintf("char%d.png", i)), fr.Image()); err != nil {
				lines = append(lines, fmt.Sprintf("glyph %d: %v", i+1, err))
			}
		}

		pred, err := predict(client, url, fr.Data)
		if err != nil {
			lines = append(lines, fmt.Sprintf("glyph %d: %v", i+1, err))
			continue
		}
		label := "?"
		if pred.Index >= 0 && pred.Index < len(classes) {
			label = string(classes[pred.Index])
		}
		result += label
		lines = append(lines, fmt.Sprintf("detected [%d/%d]: %s (score_q=%d, %s ms)",
			i+1, len(plate.Glyphs), label, pred.Score, pred.TimeMS))
	}
	bar.Finish()

	for _, l := range lines {
		fmt.Println(l)
	}
	fmt.Printf("\n[ PLATE: %s ]\n", result)
	return nil
}

func predict(client *http.Client, url string, data []byte) (handlers.PredictionResponse, error) {
	var out handlers.PredictionResponse
	resp, err := client.Post(url, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
