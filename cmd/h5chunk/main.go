// Command h5chunk reports how the datasets of HDF5 files are stored in
// chunks: the nominal chunk size of every chunked dataset and the allocated
// size of each of its chunks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		stop()
		os.Exit(1) //nolint:gocritic // stop has run
	}
}
