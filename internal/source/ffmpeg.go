package source

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

// FFmpegSource decodes a video file, RTSP/HTTP stream or V4L2 device through ffmpeg
type FFmpegSource struct {
	*StreamSource
	cmd       *exec.Cmd
	input     string
	closeOnce sync.Once
}

// FFmpegArgs builds the ffmpeg command line that writes MJPEG frames to stdout
func FFmpegArgs(input string, fps, width, height int) []string {
	var args []string

	switch {
	case strings.HasPrefix(input, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", input}
	case strings.HasPrefix(input, "/dev/video"):
		args = []string{"-f", "v4l2"}
		if width > 0 && height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
		}
		if fps > 0 {
			args = append(args, "-framerate", fmt.Sprintf("%d", fps))
		}
		args = append(args, "-i", input)
	default:
		// Files and HTTP streams
		args = []string{"-i", input}
	}

	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg")
	if fps > 0 && !strings.HasPrefix(input, "/dev/video") {
		args = append(args, "-r", fmt.Sprintf("%d", fps))
	}
	return append(args, "-q:v", "3", "-")
}

// NewFFmpegSource starts ffmpeg for input. fps, width and height are optional (0).
func NewFFmpegSource(ctx context.Context, input string, fps, width, height int) (*FFmpegSource, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", FFmpegArgs(input, fps, width, height)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debugf("[Source] ffmpeg: %s", scanner.Text())
		}
	}()

	log.Printf("[Source] Started ffmpeg for %s", input)
	return &FFmpegSource{
		StreamSource: NewStreamSource(stdout),
		cmd:          cmd,
		input:        input,
	}, nil
}

// Close stops ffmpeg and waits for it to exit
func (s *FFmpegSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		// Wait closes the stdout pipe
		if werr := s.cmd.Wait(); werr != nil && !strings.Contains(werr.Error(), "killed") {
			err = werr
		}
		log.Printf("[Source] Stopped ffmpeg for %s", s.input)
	})
	return err
}

var _ pipeline.FrameSource = (*FFmpegSource)(nil)
