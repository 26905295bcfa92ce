package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/LotTrace/internal/config"
	"github.com/JonMunkholm/LotTrace/internal/logging"
)

// Stage names, in pipeline order.
const (
	StageCleanRaw     = "clean_raw_data"
	StageMergeRawEtch = "merge_raw_w_etch"
	StageChain        = "cde_merger"
	StageFinalMerge   = "tbl_merge"
)

// Pipeline holds the settings shared by the four stages.
type Pipeline struct {
	Layout      config.RawLayout
	LinkWindow  time.Duration
	MergeWindow time.Duration
}

// NewPipeline builds the stage settings from configuration.
func NewPipeline(cfg config.PipelineConfig, layout config.RawLayout) Pipeline {
	return Pipeline{Layout: layout, LinkWindow: cfg.LinkWindow, MergeWindow: cfg.MergeWindow}
}

// Stages returns the pipeline's stages in execution order.
func (p Pipeline) Stages() []Stage {
	return []Stage{
		{Name: StageCleanRaw, Run: p.cleanRawData},
		{Name: StageMergeRawEtch, Run: p.mergeRawWithEtch},
		{Name: StageChain, Run: p.linkStations},
		{Name: StageFinalMerge, Run: p.mergeFinal},
	}
}

// cleanRawData repairs the raw CoA sheet into cleaned_raw_data.xlsx.
func (p Pipeline) cleanRawData(ctx context.Context, dir string) (StageReport, error) {
	raw, err := LoadSource(dir, SourceRawData)
	if err != nil {
		return StageReport{}, err
	}

	clean, supplier, stats, err := NormalizeRawSheet(raw, p.Layout)
	if err != nil {
		return StageReport{}, err
	}

	logging.FromContext(ctx).Info("raw sheet cleaned",
		"supplier", supplier,
		"rows_in", stats.Input,
		"dropped_no_date", stats.NoDate,
		"dropped_no_melt", stats.NoMelt,
		"dropped_no_melt_no_lot", stats.NoMeltNoLot,
		"dropped_empty", stats.Empty,
		"rows_out", stats.Output,
	)

	return writeArtifact(ctx, dir, ArtifactCleanedRaw, clean, map[string]int{
		"rows_in":         stats.Input,
		"dropped_no_date": stats.NoDate,
		"dropped_no_melt": stats.NoMelt,
	})
}

// mergeRawWithEtch joins the cleaned lots to the etching batch table.
func (p Pipeline) mergeRawWithEtch(ctx context.Context, dir string) (StageReport, error) {
	lots, err := readArtifact(dir, ArtifactCleanedRaw)
	if err != nil {
		return StageReport{}, err
	}
	batches, err := LoadSource(dir, SourceBatch)
	if err != nil {
		return StageReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return StageReport{}, err
	}

	joined, stats, err := JoinMelt(lots, batches, p.Layout)
	if err != nil {
		return StageReport{}, err
	}

	logging.FromContext(ctx).Info("lot records joined to etching batches",
		"lot_records", lots.Len(),
		"batch_records", batches.Len(),
		"records", stats.Rows,
		"records_with_etching_data", stats.Matched,
	)

	return writeArtifact(ctx, dir, ArtifactCombined, joined, map[string]int{
		"lot_records":               lots.Len(),
		"records_with_etching_data": stats.Matched,
	})
}

// linkStations links the cleaner, developer and etcher logs.
func (p Pipeline) linkStations(ctx context.Context, dir string) (StageReport, error) {
	var logs [3]*Table
	for i, key := range []string{SourceCleaner, SourceDeveloper, SourceEtcher} {
		t, err := LoadSource(dir, key)
		if err != nil {
			return StageReport{}, err
		}
		logs[i] = t
	}
	if err := ctx.Err(); err != nil {
		return StageReport{}, err
	}

	chain, stats, err := LinkChain(logs[0], logs[1], logs[2], p.LinkWindow)
	if err != nil {
		return StageReport{}, err
	}

	logging.FromContext(ctx).Info("station logs linked",
		"cleaner_records", stats.Cleaner,
		"developer_records", stats.Developer,
		"etcher_records", stats.Etcher,
		"records", stats.Rows,
		"records_with_complete_chain", stats.Complete,
	)

	return writeArtifact(ctx, dir, ArtifactSync, chain, map[string]int{
		"cleaner_records":             stats.Cleaner,
		"records_with_complete_chain": stats.Complete,
	})
}

// mergeFinal expands each lot record with the linked events that followed it.
func (p Pipeline) mergeFinal(ctx context.Context, dir string) (StageReport, error) {
	lots, err := readArtifact(dir, ArtifactCombined)
	if err != nil {
		return StageReport{}, err
	}
	events, err := readArtifact(dir, ArtifactSync)
	if err != nil {
		return StageReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return StageReport{}, err
	}

	final, stats, err := ExpandMerge(lots, events, ColCreated, ColEtcherTS, p.MergeWindow)
	if err != nil {
		return StageReport{}, err
	}

	log := logging.FromContext(ctx)
	if stats.Fallback {
		log.Warn("no sync records matched any lot record; keeping lot data only",
			"sync_records", stats.RightRows)
	}
	log.Info("lot records merged with sync records",
		"original_lot_records", stats.LeftRows,
		"sync_records_available", stats.RightRows,
		"final_records", stats.Rows,
		"records_with_sync_data", stats.WithSync,
		"lot_data_only", stats.Rows-stats.WithSync,
		"duplicate_sync_records", stats.Duplicates,
	)

	return writeArtifact(ctx, dir, ArtifactFinal, final, map[string]int{
		"original_lot_records":   stats.LeftRows,
		"sync_records_available": stats.RightRows,
		"records_with_sync_data": stats.WithSync,
	})
}

// readArtifact reads a file an earlier stage wrote into dir.
func readArtifact(dir, name string) (*Table, error) {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact %s missing, run the earlier stages first: %w", name, err)
	}
	return ReadTable(path)
}

// writeArtifact writes t to dir/name unless ctx has already ended.
func writeArtifact(ctx context.Context, dir, name string, t *Table, counts map[string]int) (StageReport, error) {
	if err := ctx.Err(); err != nil {
		return StageReport{}, err
	}
	if err := WriteTable(filepath.Join(dir, name), t); err != nil {
		return StageReport{}, err
	}
	return StageReport{Artifact: name, Rows: t.Len(), Counts: counts}, nil
}
