// Package captcha turns a slider-captcha background image into the pixel
// distance the slider must travel, and synthesizes the drag motion.
package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Lvvv7/Intelligent-certificate/internal/telemetry"
)

// ErrExhausted reports that every recognition attempt failed.
var ErrExhausted = errors.New("captcha: retries exhausted without locating the gap")

// sliderRestOffset is the resting x position of the slider in the image's
// own pixel space.
const sliderRestOffset = 12

// Provider supplies the current challenge image and can request a fresh one.
type Provider interface {
	// ChallengeImage returns the background image as a data: URI.
	ChallengeImage(ctx context.Context) (string, error)
	// Refresh asks the page for a new challenge.
	Refresh(ctx context.Context) error
}

// Box is a recognizer bounding box; X marks the left edge of the gap.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Recognizer locates the slider gap in a challenge image on disk.
type Recognizer interface {
	Identify(ctx context.Context, imagePath string) (Box, bool, error)
}

// Solver runs the recognize-scale-retry loop.
type Solver struct {
	rec      Recognizer
	imageDir string
	maxRetry int
	// RefreshWait is the pause after requesting a fresh challenge, giving the
	// page time to render it.
	RefreshWait time.Duration
	logger      *slog.Logger
}

// New builds a solver writing transient snapshots under imageDir.
func New(rec Recognizer, imageDir string, maxRetry int, logger *slog.Logger) *Solver {
	if maxRetry < 1 {
		maxRetry = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		rec:         rec,
		imageDir:    imageDir,
		maxRetry:    maxRetry,
		RefreshWait: 2 * time.Second,
		logger:      logger,
	}
}

// Solve resolves the drag distance for the current challenge, refreshing the
// image and retrying when the recognizer cannot find the gap. It fails with
// ErrExhausted after maxRetry attempts.
func (s *Solver) Solve(ctx context.Context, p Provider, displayWidth float64) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetry; attempt++ {
		telemetry.CaptchaAttempts.Inc()

		distance, err := s.attempt(ctx, p, displayWidth, attempt)
		if err == nil {
			return distance, nil
		}
		lastErr = err
		s.logger.Error("captcha attempt failed", "attempt", attempt, "err", err)

		if attempt == s.maxRetry {
			break
		}
		if err := p.Refresh(ctx); err != nil {
			s.logger.Error("captcha refresh failed", "err", err)
			continue
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.RefreshWait):
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (s *Solver) attempt(ctx context.Context, p Provider, displayWidth float64, attempt int) (int, error) {
	src, err := p.ChallengeImage(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch challenge: %w", err)
	}

	raw, err := decodeDataURI(src)
	if err != nil {
		return 0, err
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("decode challenge: %w", err)
	}
	intrinsicWidth := float64(img.Bounds().Dx())

	// The recognizer works on a file path, so keep a transient copy.
	path := filepath.Join(s.imageDir, fmt.Sprintf("%d_attempt%d.png", time.Now().UnixNano(), attempt))
	if err := os.MkdirAll(s.imageDir, 0o755); err != nil {
		return 0, fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return 0, fmt.Errorf("write challenge snapshot: %w", err)
	}

	box, found, err := s.rec.Identify(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("identify gap: %w", err)
	}
	if !found {
		return 0, errors.New("recognizer returned no bounding box")
	}

	distance := DragDistance(box.X, intrinsicWidth, displayWidth)
	s.logger.Info("captcha gap located",
		"attempt", attempt, "gap_x", box.X,
		"intrinsic_width", intrinsicWidth, "display_width", displayWidth,
		"distance", distance)
	return distance, nil
}

// DragDistance scales the recognized gap position from the image's pixel
// space into the on-page slider travel, never less than one pixel.
func DragDistance(gapX, intrinsicWidth, displayWidth float64) int {
	scale := 1.0
	if intrinsicWidth > 0 {
		scale = displayWidth / intrinsicWidth
	}
	distance := (gapX - sliderRestOffset) * scale
	if distance < 1 {
		return 1
	}
	return int(math.Round(distance))
}

func decodeDataURI(src string) ([]byte, error) {
	if !strings.HasPrefix(src, "data:image") {
		return nil, errors.New("challenge src is not an inline image")
	}
	_, b64, ok := strings.Cut(src, "base64,")
	if !ok {
		return nil, errors.New("challenge src is not base64 encoded")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode challenge payload: %w", err)
	}
	return raw, nil
}
