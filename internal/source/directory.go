package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/tracklink/internal/geometry"
)

// Directory replays still images from a directory in lexical order, which
// pairs with the frame-%06d.jpg files written by the viewer.
type Directory struct {
	files    []string
	next     int
	seq      uint64
	rotation geometry.Rotation
	mirrored bool
	interval time.Duration
	last     time.Time
	loop     bool
}

// DirectoryOptions configures a Directory source.
type DirectoryOptions struct {
	Rotation  geometry.Rotation
	Mirrored  bool
	FrameRate float64
	// Loop restarts from the first file instead of returning io.EOF.
	Loop bool
}

// NewDirectory lists the .jpg, .jpeg and .png files in dir.
func NewDirectory(dir string, opts DirectoryOptions) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)

	var interval time.Duration
	if opts.FrameRate > 0 {
		interval = time.Duration(float64(time.Second) / opts.FrameRate)
	}

	return &Directory{
		files:    files,
		rotation: opts.Rotation,
		mirrored: opts.Mirrored,
		interval: interval,
		loop:     opts.Loop,
	}, nil
}

// Len is the number of files found.
func (d *Directory) Len() int { return len(d.files) }

// Next implements Source. Files that fail to decode are skipped.
func (d *Directory) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if d.next >= len(d.files) {
			if !d.loop {
				return Frame{}, io.EOF
			}
			d.next = 0
		}
		path := d.files[d.next]
		d.next++

		img, err := decodeFile(path)
		if err != nil {
			continue
		}
		if err := d.pace(ctx); err != nil {
			return Frame{}, err
		}
		d.seq++
		return NewFrame(img, d.rotation, d.mirrored, d.seq), nil
	}
}

func (d *Directory) pace(ctx context.Context) error {
	if d.interval <= 0 {
		return nil
	}
	if !d.last.IsZero() {
		if wait := d.interval - time.Since(d.last); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	d.last = time.Now()
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
