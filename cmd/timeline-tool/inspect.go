package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/book-expert/voice-timeline/internal/importer"
	"github.com/book-expert/voice-timeline/internal/timeline"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

const previewBytes = 16

var errStopWalk = errors.New("limit reached")

// datagramRecord is the JSON form of one datagram printed by dump and range.
type datagramRecord struct {
	Index    int64  `json:"index"`
	BytePos  *int64 `json:"byte_pos,omitempty"`
	TimePos  int64  `json:"time_pos"`
	Duration int64  `json:"duration"`
	Length   int    `json:"length"`
	Data     []byte `json:"data"`
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <timeline>",
		Short: "Print the header and index summary of a timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tl, err := timeline.Open(args[0])
			if err != nil {
				return err
			}
			defer tl.Close()

			stat, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			printInfo(cmd.OutOrStdout(), tl, stat.Size())

			return nil
		},
	}
}

func printInfo(out io.Writer, tl *timeline.Timeline, size int64) {
	header := tl.Header()
	index := tl.Index()

	fmt.Fprintf(out, "File:              %s (%s)\n", tl.Path(), fsutil.FormatFileSize(size))
	fmt.Fprintf(out, "Processing header: %q\n", tl.ProcessingHeader())
	fmt.Fprintf(out, "Sample rate:       %d Hz\n", tl.SampleRate())
	fmt.Fprintf(out, "Datagrams:         %d\n", tl.NumDatagrams())
	fmt.Fprintf(out, "Total duration:    %d samples (%s)\n", tl.TotalDuration(), fsutil.FormatSamples(tl.TotalDuration(), tl.SampleRate()))
	fmt.Fprintf(out, "Datagram zone:     bytes %d to %d\n", header.DatagramsBytePos, header.IndexBytePos)
	fmt.Fprintf(out, "Index:             %d fields every %d samples\n", index.Len(), index.Interval())
}

func (a *app) dumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <timeline>",
		Short: "Print every datagram of a timeline in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool(flagJSON)
			limit, _ := cmd.Flags().GetInt64(flagLimit)

			tl, err := timeline.Open(args[0])
			if err != nil {
				return err
			}
			defer tl.Close()

			out := cmd.OutOrStdout()

			var n int64

			walkErr := tl.Walk(func(c timeline.Cursor, d timeline.Datagram) error {
				if limit > 0 && n >= limit {
					return errStopWalk
				}

				bytePos := c.BytePos
				record := datagramRecord{
					Index:    n,
					BytePos:  &bytePos,
					TimePos:  c.TimePos,
					Duration: d.Duration,
					Length:   len(d.Data),
					Data:     d.Data,
				}
				n++

				return printRecord(out, record, asJSON)
			})
			if walkErr != nil && !errors.Is(walkErr, errStopWalk) {
				return walkErr
			}

			return nil
		},
	}

	cmd.Flags().Bool(flagJSON, false, flagJSONDesc)
	cmd.Flags().Int64(flagLimit, 0, flagLimitDesc)

	return cmd
}

func (a *app) rangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "range <timeline> <target> <span>",
		Short: "Print the datagrams covering [target, target+span)",
		Long: `Print the datagrams covering [target, target+span). Times are in samples at
--rate, which defaults to the timeline's own rate; printed durations use the same rate.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid target time %q: %w", args[1], err)
			}

			span, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid time span %q: %w", args[2], err)
			}

			asJSON, _ := cmd.Flags().GetBool(flagJSON)
			rate, _ := cmd.Flags().GetInt(flagRate)

			tl, err := timeline.Open(args[0])
			if err != nil {
				return err
			}
			defer tl.Close()

			if rate == 0 {
				rate = tl.SampleRate()
			}

			datagrams, _, err := tl.Datagrams(target, span, rate)
			if err != nil {
				return err
			}

			start, err := tl.Goto(target, rate)
			if err != nil {
				return err
			}

			timePos := timeline.ScaleTime(start.TimePos, tl.SampleRate(), rate)
			out := cmd.OutOrStdout()

			for i, d := range datagrams {
				record := datagramRecord{
					Index:    int64(i),
					TimePos:  timePos,
					Duration: d.Duration,
					Length:   len(d.Data),
					Data:     d.Data,
				}
				timePos += d.Duration

				printErr := printRecord(out, record, asJSON)
				if printErr != nil {
					return printErr
				}
			}

			return nil
		},
	}

	cmd.Flags().Bool(flagJSON, false, flagJSONDesc)
	cmd.Flags().Int(flagRate, 0, flagRateDesc)

	return cmd
}

func (a *app) whichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "which <basename-timeline> <time>",
		Short: "Print the utterance a time falls in",
		Long: `Print the basename of the utterance a time falls in. The time is in samples
at --rate, which defaults to the timeline's own rate.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid time %q: %w", args[1], err)
			}

			rate, _ := cmd.Flags().GetInt(flagRate)

			tl, err := timeline.Open(args[0])
			if err != nil {
				return err
			}
			defer tl.Close()

			if rate == 0 {
				rate = tl.SampleRate()
			}

			name, err := importer.BasenameAt(tl, at, rate)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), name)

			return nil
		},
	}

	cmd.Flags().Int(flagRate, 0, flagRateDesc)

	return cmd
}

func printRecord(out io.Writer, record datagramRecord, asJSON bool) error {
	if asJSON {
		line, err := sonic.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode datagram %d: %w", record.Index, err)
		}

		_, err = fmt.Fprintf(out, "%s\n", line)

		return err
	}

	_, err := fmt.Fprintf(out, "%6d  t=%-10d d=%-8d len=%-6d %s\n",
		record.Index, record.TimePos, record.Duration, record.Length, preview(record.Data))

	return err
}

// preview renders the start of a payload, as text when it is printable.
func preview(data []byte) string {
	short := data[:min(len(data), previewBytes)]
	suffix := ""

	if len(data) > previewBytes {
		suffix = "..."
	}

	if utf8.Valid(short) && isPrintable(string(short)) {
		return strconv.Quote(string(short)) + suffix
	}

	return fmt.Sprintf("% x%s", short, suffix)
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !strconv.IsPrint(r) {
			return false
		}
	}

	return true
}
