package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
	"github.com/tunnelmesh/chunkvault/internal/stream"
	"github.com/tunnelmesh/chunkvault/pkg/bytesize"
)

func newUsageCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show quota and volume usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}

			info, err := st.Info(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Root:       %s\n", st.Folder())
			_, _ = fmt.Fprintf(out, "Size:       %s\n", bytesize.Format(info.Size))
			_, _ = fmt.Fprintf(out, "Used:       %s (%.1f%%)\n", bytesize.Format(info.Used), info.Capacity)
			_, _ = fmt.Fprintf(out, "Available:  %s\n", bytesize.Format(info.Available))
			_, _ = fmt.Fprintf(out, "Block size: %s\n", bytesize.Format(st.BlockSize()))

			vol, err := st.Volume(ctx)
			if errors.Is(err, errors.ErrUnsupported) {
				return nil
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Volume:     %s free of %s\n", bytesize.Format(vol.Available), bytesize.Format(vol.Total))
			_, _ = fmt.Fprintf(out, "Effective:  %s\n", bytesize.Format(store.EffectiveAvailable(info, vol)))
			return nil
		},
	}
}

func newPutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "put <source|-> <manifest>",
		Short: "Store a file and write its manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in := cmd.InOrStdin()
			if args[0] != "-" {
				src, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open source: %w", err)
				}
				defer func() { _ = src.Close() }()
				in = src
			}

			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			f, err := c.openFile(ctx, st, nil)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close(ctx) }()

			w := stream.NewWriter(ctx, f, stream.WithHighWaterMark(int(c.cfg.HighWaterMark)))
			n, err := io.Copy(w, in)
			if err != nil {
				return fmt.Errorf("store %s: %w", args[0], err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("store %s: %w", args[0], err)
			}

			m := f.Manifest()
			if err := writeManifest(args[1], m); err != nil {
				return err
			}

			log.Info().
				Str("manifest", args[1]).
				Int64("bytes", n).
				Int("chunks", m.Len()).
				Msg("file stored")
			return nil
		},
	}
}

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <manifest> [destination]",
		Short: "Reassemble a file from its manifest",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := readManifest(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 2 {
				dst, err := os.Create(args[1])
				if err != nil {
					return fmt.Errorf("create destination: %w", err)
				}
				defer func() { _ = dst.Close() }()
				out = dst
			}

			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			f, err := c.openFile(ctx, st, &m)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close(ctx) }()

			if _, err := io.Copy(out, stream.NewReader(ctx, f)); err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func newCatRangeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cat-range <manifest> <start> <end>",
		Short: "Print bytes [start, end) of a stored file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid start: %w", err)
			}
			end, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid end: %w", err)
			}
			m, err := readManifest(args[0])
			if err != nil {
				return err
			}

			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			f, err := c.openFile(ctx, st, &m)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close(ctx) }()

			data, err := f.Read(ctx, start, end)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newRmCmd(c *cli) *cobra.Command {
	var keep []string

	cmd := &cobra.Command{
		Use:   "rm <manifest>",
		Short: "Delete a stored file and its unshared chunks",
		Long: `Delete a stored file. Chunks shared with the manifests given by --keep
are retained; everything else the manifest references is removed from
the store and the manifest file is deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := readManifest(args[0])
			if err != nil {
				return err
			}

			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			refs := st.Refs()
			for _, path := range keep {
				other, err := readManifest(path)
				if err != nil {
					return err
				}
				for _, ch := range other.Chunks {
					refs.Observe(ch.Hash, ch.Refs)
				}
			}

			f, err := c.openFile(ctx, st, &m)
			if err != nil {
				return err
			}
			retained, err := f.Delete(ctx)
			if err != nil {
				return err
			}
			if err := os.Remove(args[0]); err != nil {
				return fmt.Errorf("remove manifest: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s, %d shared chunks retained\n", args[0], len(retained))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&keep, "keep", nil, "manifests whose chunks must survive")
	return cmd
}

// inspection is the JSON form printed by inspect.
type inspection struct {
	Length uint64           `json:"length"`
	Stored uint64           `json:"stored"`
	Chunks []manifest.Chunk `json:"chunks"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <manifest>",
		Short: "Print a manifest as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readManifest(args[0])
			if err != nil {
				return err
			}

			out := inspection{Length: m.Length(), Chunks: m.Sorted().Chunks}
			for _, ch := range m.Chunks {
				out.Stored += ch.Size
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
