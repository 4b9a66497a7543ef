package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/network"
)

type viewOptions struct {
	addr   string
	outDir string
	limit  int
}

func newViewCmd(g *globalOptions) *cobra.Command {
	opts := &viewOptions{}
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Receive the video stream and save frames as JPEG files",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := runView(cmd.Context(), opts)
			monitoring.Logf("[Video] Received %d frames", n)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "localhost:6001", "video server address")
	f.StringVar(&opts.outDir, "out", "", "directory for frame-NNNNNN.jpg files; empty only counts frames")
	f.IntVar(&opts.limit, "limit", 0, "stop after this many frames (0 = until the stream ends)")
	return cmd
}

// runView reads frames until the limit, the end of the stream or ctx, and
// returns how many it received.
func runView(ctx context.Context, opts *viewOptions) (int, error) {
	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	client, err := network.DialVideo(ctx, opts.addr)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	start := time.Now()
	n := 0
	for opts.limit <= 0 || n < opts.limit {
		payload, err := client.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return n, nil
			}
			return n, fmt.Errorf("video stream failed after %d frames: %w", n, err)
		}
		n++
		if opts.outDir != "" {
			path := filepath.Join(opts.outDir, fmt.Sprintf("frame-%06d.jpg", n))
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				return n, fmt.Errorf("failed to write frame: %w", err)
			}
		}
		if n%100 == 0 {
			monitoring.Logf("[Video] %d frames (%.1f fps)", n, float64(n)/time.Since(start).Seconds())
		}
	}
	return n, nil
}
