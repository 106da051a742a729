// Package printer pre-flight-checks the device, submits PDFs through the
// print helper, and polls the spooler until the job drains.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lvvv7/Intelligent-certificate/internal/telemetry"
)

// StatusError reports a device status that blocks or interrupts printing.
type StatusError struct {
	Description string
}

func (e *StatusError) Error() string {
	return "打印机状态异常：" + e.Description
}

// ErrPollTimeout reports that the completion poll ran out of time.
var ErrPollTimeout = errors.New("打印轮询超时")

// Spooler queries the device status bitmask for a named printer.
type Spooler interface {
	Status(ctx context.Context, printer string) (uint32, error)
}

// submitFunc sends one file to the printer; overridable in tests.
type submitFunc func(ctx context.Context, helper, file, printer string) error

// Dispatcher drives a print batch end to end.
type Dispatcher struct {
	spooler      Spooler
	helper       string
	pollTimeout  time.Duration
	pollInterval time.Duration
	submit       submitFunc
	logger       *slog.Logger
}

// New builds a dispatcher around the given spooler and helper executable.
func New(spooler Spooler, helper string, pollTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		spooler:      spooler,
		helper:       helper,
		pollTimeout:  pollTimeout,
		pollInterval: 500 * time.Millisecond,
		logger:       logger,
	}
	d.submit = d.runHelper
	return d
}

// Print submits every PDF under pdfDir to the named printer. The device must
// report ready before submission; afterwards the spooler is polled until it
// returns to ready, keeps printing, or reports a fault.
func (d *Dispatcher) Print(ctx context.Context, printerName, pdfDir string) error {
	if info, err := os.Stat(pdfDir); err != nil || !info.IsDir() {
		return fmt.Errorf("PDF 文件夹不存在: %s", pdfDir)
	}

	bits, err := d.spooler.Status(ctx, printerName)
	if err != nil {
		return &StatusError{Description: fmt.Sprintf("打开打印机失败：%v", err)}
	}
	if desc := DecodeStatus(bits); desc != descReady {
		return &StatusError{Description: desc}
	}
	d.logger.Info("printer ready", "printer", printerName)

	if _, err := os.Stat(d.helper); err != nil {
		// Absence is not fatal by itself; every submission below will
		// surface it per file.
		d.logger.Error("print helper missing", "path", d.helper)
	}

	var pdfs []string
	err = filepath.WalkDir(pdfDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			pdfs = append(pdfs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", pdfDir, err)
	}

	for _, pdf := range pdfs {
		if err := d.submit(ctx, d.helper, pdf, printerName); err != nil {
			return fmt.Errorf("打印任务失败：%w", err)
		}
		telemetry.PagesPrinted.Inc()
		d.logger.Info("print job submitted", "file", pdf)
	}

	return d.awaitCompletion(ctx, printerName)
}

// awaitCompletion polls until the device drains back to ready. The poll is
// bounded: a stuck spooler fails the run instead of hanging it forever.
func (d *Dispatcher) awaitCompletion(ctx context.Context, printerName string) error {
	deadline := time.Now().Add(d.pollTimeout)
	for {
		bits, err := d.spooler.Status(ctx, printerName)
		if err != nil {
			return &StatusError{Description: fmt.Sprintf("打开打印机失败：%v", err)}
		}
		switch desc := DecodeStatus(bits); desc {
		case descReady:
			return nil
		case descPrinting:
			if time.Now().After(deadline) {
				return ErrPollTimeout
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pollInterval):
			}
		default:
			return &StatusError{Description: desc}
		}
	}
}

func (d *Dispatcher) runHelper(ctx context.Context, helper, file, printer string) error {
	cmd := exec.CommandContext(ctx, helper, file, printer)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	return nil
}
