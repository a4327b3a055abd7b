package main

import (
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/rolerag/pkg/ingest"
)

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

var stageDescriptions = map[string]string{
	ingest.StageFetch: "Fetching pages...",
	ingest.StageEmbed: "Embedding documents...",
	ingest.StageWrite: "Writing to the store...",
}

// stageBars renders one progress bar per ingestion stage.
type stageBars struct {
	mu   sync.Mutex
	w    io.Writer
	bars map[string]*progressbar.ProgressBar
}

func newStageBars(w io.Writer) *stageBars {
	return &stageBars{w: w, bars: make(map[string]*progressbar.ProgressBar)}
}

func (s *stageBars) update(stage string, done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bar, ok := s.bars[stage]
	if !ok {
		desc, ok := stageDescriptions[stage]
		if !ok {
			desc = stage
		}
		bar = getProgressBar(s.w, total, desc)
		s.bars[stage] = bar
	}
	_ = bar.Set(done)
}

func (s *stageBars) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bar := range s.bars {
		_ = bar.Finish()
	}
}
