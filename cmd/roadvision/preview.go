package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

// runPreview streams the position-camera preview until the source ends.
// With out set, the first preview is saved there and the loop stops.
func runPreview(ctx context.Context, src pipeline.FrameSource, fusion *pipeline.Fusion, sink pipeline.ResultHandler, out string) error {
	log.Printf("[Preview] Align the centre line with the vehicle axis and the ROI with the lane")

	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("source exhausted")
		}
		if err != nil {
			return err
		}

		preview, err := fusion.PositionPreview(frame.Image)
		if err != nil {
			log.Warnf("[Preview] Skipping frame %d: %v", frame.Seq, err)
			continue
		}

		if out != "" {
			if err := imaging.Save(preview, out); err != nil {
				return fmt.Errorf("failed to save preview: %w", err)
			}
			return fmt.Errorf("preview saved to %s", out)
		}

		sink.OnFrameResult(&pipeline.FrameResult{
			SessionID: fusion.SessionID(),
			Seq:       frame.Seq,
			Timestamp: time.Now(),
			Frame:     preview,
		})
	}
}
