package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"roadvision/internal/config"
	"roadvision/internal/pipeline"
	"roadvision/internal/source"
)

// openSource picks the frame source for cfg.Source: an image directory, a
// still-image URL polled over HTTP, or anything ffmpeg can decode
func openSource(ctx context.Context, cfg *config.Config) (pipeline.FrameSource, error) {
	input := cfg.Source

	if info, err := os.Stat(input); err == nil && info.IsDir() {
		src, err := source.NewDirSource(input)
		if err != nil {
			return nil, err
		}
		log.Printf("[Source] Reading %d frames from %s", src.Len(), input)
		return src, nil
	}

	if source.IsSnapshotURL(input) {
		log.Printf("[Source] Polling snapshots from %s", input)
		return source.NewHTTPSnapshotSource(input, cfg.FPS), nil
	}

	src, err := source.NewFFmpegSource(ctx, input, cfg.FPS, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg for %s: %w", input, err)
	}
	return src, nil
}
