package main

import (
	"fmt"
	"io"
	"os"

	"github.com/scigolib/h5chunk/hdf5"
	"github.com/spf13/cobra"
)

type dumpOptions struct {
	path   string
	offset int64
	length int
}

func newDumpCmd() *cobra.Command {
	opts := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump <file.h5>",
		Short: "Print the superblock and an object header for debugging",
		Long: `dump prints the superblock and the header messages of one object (the root
group by default). With --offset it prints a hex dump of the raw file bytes
instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("offset") {
				return hexDump(cmd.OutOrStdout(), args[0], opts.offset, opts.length)
			}
			return dumpHeader(cmd.OutOrStdout(), args[0], opts.path)
		},
	}
	cmd.Flags().StringVar(&opts.path, "path", "/", "Object whose header is printed")
	cmd.Flags().Int64Var(&opts.offset, "offset", 0, "Hex dump the file starting at this offset")
	cmd.Flags().IntVar(&opts.length, "length", 128, "Number of bytes to hex dump")
	return cmd
}

func dumpHeader(w io.Writer, file, path string) error {
	f, err := hdf5.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h, err := f.Header(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, f.Superblock())
	fmt.Fprintf(w, "%s: %s, object header v%d at 0x%x, %d messages\n",
		path, h.Kind, h.Version, h.Address, len(h.Messages))
	for i, m := range h.Messages {
		shared := ""
		if m.Shared {
			shared = " shared"
		}
		fmt.Fprintf(w, "  %2d %-16s %5d bytes flags=0x%02x%s\n", i, m.Type, m.Size, m.Flags, shared)
	}
	return nil
}

func hexDump(w io.Writer, file string, offset int64, length int) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if offset < 0 || offset >= size {
		return fmt.Errorf("invalid offset %d (file size %d)", offset, size)
	}
	if length < 1 {
		return fmt.Errorf("invalid length %d", length)
	}
	if rest := size - offset; int64(length) > rest {
		length = int(rest)
	}

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n < length {
		return fmt.Errorf("read at 0x%x: %w", offset, err)
	}

	fmt.Fprintf(w, "%d bytes at offset 0x%x of %s (size %d):\n", n, offset, file, size)
	for i := 0; i < n; i += 16 {
		line := buf[i:min(i+16, n)]
		fmt.Fprintf(w, "%08x: ", offset+int64(i))
		for j := 0; j < 16; j++ {
			if j < len(line) {
				fmt.Fprintf(w, "%02x ", line[j])
			} else {
				fmt.Fprint(w, "   ")
			}
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprint(w, " |")
		for _, b := range line {
			if b >= 32 && b <= 126 {
				fmt.Fprintf(w, "%c", b)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w, "|")
	}
	return nil
}
