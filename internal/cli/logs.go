package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/devos-ai/orchestrator/internal/config"
	"github.com/devos-ai/orchestrator/internal/fileutil"
)

func init() {
	jobsLogsCmd.Flags().BoolVarP(&jobsLogsFollow, "follow", "f", false, "keep the terminal open and stream new output as it is written")
	jobsCmd.AddCommand(jobsLogsCmd)
}

var jobsLogsFollow bool

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <sessionId>",
	Short: "Print a CLI session's output, optionally following it live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path := fileutil.SessionLogPath(cfg.Settings.WorkspaceRoot, args[0])

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening session log: %w", err)
		}
		defer f.Close()

		offset, err := io.Copy(os.Stdout, f)
		if err != nil {
			return err
		}
		if !jobsLogsFollow {
			return nil
		}
		return tailFile(cmd.Context(), path, offset)
	},
}

// tailFile streams bytes appended to path after offset, using fsnotify to
// wake on writes instead of polling — the Output Stream Buffer tees a
// session's raw lines to this file (internal/outputbuf.Buffer.EnableFileTail)
// specifically so a reader can follow it this way even on the rare occasion
// the PTY copy goroutine itself is momentarily behind the ephemeral store's
// once-per-second snapshot cadence.
func tailFile(ctx context.Context, path string, offset int64) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching session log: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	drain := func() error {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		n, err := io.Copy(os.Stdout, bufio.NewReader(f))
		offset += n
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
