package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mikeboe/hyperresearch/pkg/research"
	"github.com/mikeboe/hyperresearch/pkg/stream"
)

// replayResult is what the replay command prints
type replayResult struct {
	State         research.ResearchState `json:"state"`
	Block         stream.Block           `json:"block"`
	UserMessageID string                 `json:"userMessageId"`
	Processed     int                    `json:"processed"`
}

func newReplayCmd() *cobra.Command {
	var (
		file  string
		chunk int
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed a recorded delta stream through the consumer and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open deltas: %w", err)
				}
				defer f.Close()
				in = f
			}

			var deltas []json.RawMessage
			if err := json.NewDecoder(in).Decode(&deltas); err != nil {
				return fmt.Errorf("failed to decode deltas: %w", err)
			}

			// keep stdout clean for the JSON result
			res := replay(deltas, chunk, slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON array of deltas (default stdin)")
	cmd.Flags().IntVar(&chunk, "chunk", 0, "Deliver the stream in growing prefixes of this many deltas")
	return cmd
}

// replay delivers deltas the way a live stream would: as a sequence that grows
// by chunk records between observations.
func replay(deltas []json.RawMessage, chunk int, logger *slog.Logger) replayResult {
	store := research.NewStore()
	blocks := stream.NewBlockState(stream.InitialBlock())
	ids := &stream.MessageIDHolder{}
	consumer := stream.NewConsumer(store, blocks, ids)
	consumer.Logger = logger

	if chunk <= 0 {
		chunk = len(deltas)
	}

	processed := 0
	for end := chunk; ; end += chunk {
		if end > len(deltas) {
			end = len(deltas)
		}
		processed += consumer.Consume(deltas[:end])
		if end == len(deltas) {
			break
		}
	}

	return replayResult{
		State:         store.State(),
		Block:         blocks.Block(),
		UserMessageID: ids.UserMessageID(),
		Processed:     processed,
	}
}
