// Command voicectl inspects the sessions and metrics written by the voice
// dialogue service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ai-voice-dialogue-service/internal/config"
)

type options struct {
	storageDir string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "voicectl",
		Short: "Inspect voice dialogue sessions and metrics",
		Long: `voicectl reads the conversation history and latency metrics that the
voice dialogue service persists under its storage directory.

The storage directory defaults to STORAGE_DIR (or ~/.voice-dialogue).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.storageDir, "storage-dir", "", "override the storage directory")

	root.AddCommand(
		newMetricsCmd(opts),
		newConversationsCmd(opts),
		newSessionCmd(opts),
		newProvidersCmd(),
	)
	return root
}

// storage returns the configured storage settings with the flag override
// applied.
func (o *options) storage() config.StorageConfig {
	cfg := config.Load()
	if o.storageDir != "" {
		cfg.Storage.BaseDir = o.storageDir
	}
	return cfg.Storage
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
