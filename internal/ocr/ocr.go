// Package ocr extracts text from images via an external recognition
// backend. The default backend shells out to the tesseract CLI; a
// disabled backend is used when OCR_ENABLED is off so parsers can call it
// unconditionally.
package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Backend recognizes text in an image file.
type Backend interface {
	// Enabled reports whether recognition is available. Parsers skip
	// image handling entirely when false.
	Enabled() bool

	// ImageToText runs recognition on the image at path.
	ImageToText(ctx context.Context, path string) (string, error)
}

// Disabled is the no-op backend used when OCR is turned off.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) ImageToText(context.Context, string) (string, error) {
	return "", fmt.Errorf("ocr: disabled")
}

// Tesseract shells out to the tesseract CLI.
type Tesseract struct {
	Lang string // tesseract language spec, e.g. "rus+eng"
}

func (Tesseract) Enabled() bool { return true }

// ImageToText recognizes the image via `tesseract <path> stdout -l <lang>`.
func (t Tesseract) ImageToText(ctx context.Context, path string) (string, error) {
	lang := t.Lang
	if lang == "" {
		lang = "eng"
	}
	out, err := exec.CommandContext(ctx, "tesseract", path, "stdout", "-l", lang).Output()
	if err != nil {
		return "", fmt.Errorf("ocr: tesseract failed for %s: %w", filepath.Base(path), err)
	}
	return string(out), nil
}

// New returns the backend for the given configuration.
func New(enabled bool, backend, lang string) Backend {
	if !enabled {
		return Disabled{}
	}
	// tesseract is the only CLI backend carried over; unknown names fall
	// back to it with the same language spec.
	_ = backend
	return Tesseract{Lang: lang}
}

// imagemagickBinary returns the available ImageMagick entry point, or ""
// when none is installed.
func imagemagickBinary() string {
	for _, name := range []string{"magick", "convert"} {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// HasImageMagick reports whether an ImageMagick converter is installed.
func HasImageMagick() bool { return imagemagickBinary() != "" }

// ConvertToPNG converts a vector image (wmf, emf) to a temporary PNG via
// ImageMagick. The caller removes the returned file.
func ConvertToPNG(ctx context.Context, inputPath string) (string, error) {
	bin := imagemagickBinary()
	if bin == "" {
		return "", fmt.Errorf("ocr: imagemagick is not installed")
	}

	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("docproc_ocr_%s.png", uuid.New().String()))
	if out, err := exec.CommandContext(ctx, bin, inputPath, outPath).CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("ocr: conversion of %s failed: %v: %s",
			filepath.Base(inputPath), err, strings.TrimSpace(string(out)))
	}
	return outPath, nil
}

// RasterizePDFPage renders one PDF page (1-based) to a temporary PNG at
// the given DPI via ImageMagick. The caller removes the returned file.
func RasterizePDFPage(ctx context.Context, pdfPath string, page, dpi int) (string, error) {
	bin := imagemagickBinary()
	if bin == "" {
		return "", fmt.Errorf("ocr: imagemagick is not installed")
	}

	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("docproc_page_%s.png", uuid.New().String()))
	src := fmt.Sprintf("%s[%d]", pdfPath, page-1)
	if out, err := exec.CommandContext(ctx, bin, "-density", fmt.Sprintf("%d", dpi), src, outPath).CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("ocr: rasterization of page %d failed: %v: %s",
			page, err, strings.TrimSpace(string(out)))
	}
	return outPath, nil
}
