// Command vfdswmrctl is the CLI tool for driving and inspecting
// VFD SWMR metadata files.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/tickfile/vfdswmr/audit"
	"github.com/tickfile/vfdswmr/codec"
	"github.com/tickfile/vfdswmr/index"
	"github.com/tickfile/vfdswmr/ledger"
	"github.com/tickfile/vfdswmr/mdfile"
	"github.com/tickfile/vfdswmr/scheduler"
	"github.com/tickfile/vfdswmr/tick"
	"github.com/tickfile/vfdswmr/vfdswmr"
)

const version = "0.1.0"

// CLI defines the command-line interface for vfdswmrctl.
var CLI struct {
	Inspect  InspectGroup `cmd:"" help:"Inspect a metadata file"`
	Simulate SimulateCmd  `cmd:"" help:"Drive a simulated writer/reader session"`
	History  HistoryGroup `cmd:"" help:"Tick history operations"`
	Version  VersionCmd   `cmd:"" help:"Print version information"`
}

// InspectGroup contains metadata-file inspection operations.
type InspectGroup struct {
	Header InspectHeaderCmd `cmd:"" help:"Print the current Header record"`
	Index  InspectIndexCmd  `cmd:"" help:"Print the current Index entries"`
}

// HistoryGroup contains audit-history operations.
type HistoryGroup struct {
	Show          HistoryShowCmd          `cmd:"" help:"Show recorded tick history for a file ID"`
	VerifyContent HistoryVerifyContentCmd `cmd:"" help:"Recompute the index content digest and compare against recorded history"`
}

// InspectHeaderCmd prints the Header record of a metadata file.
type InspectHeaderCmd struct {
	Path     string `arg:"" help:"Path to metadata file" type:"existingfile"`
	PageSize uint32 `default:"4096" help:"Page size in bytes"`
}

func (c *InspectHeaderCmd) Run() error {
	mf, err := mdfile.Open(c.Path, c.PageSize, 1)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer mf.Close()

	h, err := mf.ReadHeader()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	fmt.Printf("Header: %s\n", c.Path)
	fmt.Printf("  page_size:    %s\n", humanize.Bytes(uint64(h.PageSize)))
	fmt.Printf("  tick_num:     %d\n", h.TickNum)
	fmt.Printf("  index_offset: %d\n", h.IndexOffset)
	fmt.Printf("  index_length: %s\n", humanize.Bytes(h.IndexLength))
	return nil
}

// InspectIndexCmd prints the Index entries of a metadata file.
type InspectIndexCmd struct {
	Path     string `arg:"" help:"Path to metadata file" type:"existingfile"`
	PageSize uint32 `default:"4096" help:"Page size in bytes"`
}

func (c *InspectIndexCmd) Run() error {
	mf, err := mdfile.Open(c.Path, c.PageSize, 1)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer mf.Close()

	h, entries, err := mf.ReadIndexFollowedByHeader(3)
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	idx := index.New(len(entries))
	for _, e := range entries {
		if err := idx.InsertOrUpdate(e.HdF5PageOffset, nil, e.Length, h.TickNum); err != nil {
			return fmt.Errorf("failed to rebuild index for dump: %w", err)
		}
		idx.Set(index.Entry{
			HdF5PageOffset:   e.HdF5PageOffset,
			MDFilePageOffset: e.MDFilePageOffset,
			Length:           e.Length,
			Checksum:         e.Checksum,
			TickOfLastChange: h.TickNum,
			TickOfLastFlush:  h.TickNum,
			Clean:            true,
		})
	}

	// A bare mdfile.File has no live writer session to inspect; build a
	// throwaway WriterController over the just-read entries purely so
	// this command dumps through the same WriterController.DumpIndex
	// the writer itself uses, rather than reformatting by hand.
	ctrl := tick.NewWriterController("inspect", mf, idx, ledger.New(), nil, nil, nil, nil, c.PageSize, 0, 0)

	fmt.Printf("Index: %s (tick %d, %d entries)\n", c.Path, h.TickNum, len(entries))
	return ctrl.DumpIndex(os.Stdout)
}

// SimulateCmd drives a short writer/reader session against a fresh
// metadata file, for manual exercise of the engine.
type SimulateCmd struct {
	Path     string        `arg:"" help:"Path to metadata file to create" type:"path"`
	PageSize uint32        `default:"4096" help:"Page size in bytes"`
	Capacity int           `default:"64" help:"Index capacity"`
	MaxLag   uint32        `default:"3" help:"Max delayed-write lag, in ticks"`
	TickLen  time.Duration `default:"100ms" help:"Tick duration"`
	Ticks    int           `default:"5" help:"Number of writer ticks to drive"`
}

func (c *SimulateCmd) Run() error {
	queue := scheduler.NewQueue()
	cfg := vfdswmr.Config{
		MDFilePath:      c.Path,
		PageSize:        c.PageSize,
		MDPagesReserved: 1,
		IndexCapacity:   c.Capacity,
		MaxLag:          c.MaxLag,
		TickLen:         c.TickLen,
		Queue:           queue,
	}

	wh, err := vfdswmr.OpenWriter(cfg)
	if err != nil {
		return fmt.Errorf("failed to open writer: %w", err)
	}
	defer wh.Close()

	rh, err := vfdswmr.OpenReader(cfg)
	if err != nil {
		return fmt.Errorf("failed to open reader: %w", err)
	}
	defer rh.Close()

	for i := 0; i < c.Ticks; i++ {
		wh.PageBuffer().Dirty(uint32(i+1), make([]byte, c.PageSize))
		if _, err := wh.Writer().EndOfTick(time.Now()); err != nil {
			return fmt.Errorf("writer tick %d failed: %w", i, err)
		}
		if _, err := rh.Reader().EndOfTick(time.Now()); err != nil {
			return fmt.Errorf("reader tick %d failed: %w", i, err)
		}

		diff := rh.Reader().LastDiff()
		fmt.Printf("tick %d: writer committed, reader saw +%d ~%d -%d\n",
			wh.Writer().TickNum()-1, len(diff.Added), len(diff.Changed), len(diff.Removed))
	}

	fmt.Printf("Done: %s, final tick %d\n", c.Path, wh.Writer().TickNum()-1)
	return nil
}

// HistoryShowCmd prints recorded tick history for a file ID.
type HistoryShowCmd struct {
	AuditDB string `arg:"" help:"Path to audit database" type:"existingfile"`
	FileID  string `arg:"" help:"File ID (correlation UUID) to show history for"`
	Limit   int    `default:"20" help:"Maximum rows to show (0 for all)"`
}

func (c *HistoryShowCmd) Run() error {
	store, err := audit.OpenReadOnly(c.AuditDB)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer store.Close()

	records, err := store.History(c.FileID, c.Limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	fmt.Printf("History: %s (%d records)\n", c.FileID, len(records))
	for _, r := range records {
		fmt.Printf("  tick=%-6d at=%s entries=%-4d bytes=%-10s digest=%s\n",
			r.TickNum, r.CommittedAt.Format(time.RFC3339), r.NumEntries, humanize.Bytes(uint64(r.BytesWritten)), r.Digest)
	}
	return nil
}

// HistoryVerifyContentCmd recomputes the BLAKE3 digest of a metadata
// file's current Index and compares it against the most recently
// recorded audit digest for fileID, detecting silent corruption or a
// mismatch between what was published and what was audited.
type HistoryVerifyContentCmd struct {
	AuditDB  string `arg:"" help:"Path to audit database" type:"existingfile"`
	FileID   string `arg:"" help:"File ID (correlation UUID) to verify"`
	MDPath   string `arg:"" help:"Path to the metadata file" type:"existingfile"`
	PageSize uint32 `default:"4096" help:"Page size in bytes"`
}

func (c *HistoryVerifyContentCmd) Run() error {
	store, err := audit.OpenReadOnly(c.AuditDB)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer store.Close()

	records, err := store.History(c.FileID, 1)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no history recorded for file %s", c.FileID)
	}
	latest := records[0]

	mf, err := mdfile.Open(c.MDPath, c.PageSize, 1)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer mf.Close()

	h, entries, err := mf.ReadIndexFollowedByHeader(3)
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	if h.TickNum != latest.TickNum {
		fmt.Printf("warning: metadata file tick %d does not match latest recorded tick %d\n", h.TickNum, latest.TickNum)
	}

	got := audit.Digest(codec.EncodeIndex(h.TickNum, entries))
	if got != latest.Digest {
		fmt.Printf("MISMATCH: recorded=%s computed=%s (tick %d)\n", latest.Digest, got, latest.TickNum)
		return fmt.Errorf("content verification failed for file %s", c.FileID)
	}
	fmt.Printf("OK: tick %d digest %s matches recorded history\n", latest.TickNum, got)
	return nil
}

// VersionCmd prints the CLI version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("vfdswmrctl version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("vfdswmrctl"),
		kong.Description("Inspect and drive VFD SWMR metadata files"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
