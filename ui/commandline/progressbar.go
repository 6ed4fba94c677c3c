// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/tuner"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/constraints"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// Output where the progress bar is written. Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// progressBar holds a progressbar being displayed.
type progressBar struct {
	numEpochs int
	bar       *progressbar.ProgressBar

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup
	stopOnce         sync.Once

	extraMetricFns []ExtraMetricFn
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

const ProgressBarName = "enas.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

func (pBar *progressBar) onStart(loop *tuner.Loop) error {
	pBar.numEpochs = max(loop.EndEpoch-loop.StartEpoch, 0)
	pBar.bar = progressbar.NewOptions(pBar.numEpochs,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("epochs"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(Output),
	)
	pBar.startDrawing()
	return nil
}

func (pBar *progressBar) onEpoch(loop *tuner.Loop, stats controller.Stats) error {
	if pBar.bar.IsFinished() {
		return nil
	}
	pBar.updates <- progressBarUpdate{
		amount: 1,
		rows:   append(StatsRows(loop, stats), pBar.extraRows()...),
	}
	return nil
}

func (pBar *progressBar) onEnd(_ *tuner.Loop, _ controller.Stats) error {
	pBar.stop()
	return nil
}

// stop drawing and restore the cursor. It can be called more than once.
func (pBar *progressBar) stop() {
	pBar.stopOnce.Do(func() {
		if pBar.updates == nil {
			// Never started.
			return
		}
		close(pBar.updates)
		pBar.asyncUpdatesDone.Wait()
		pBar.termenv.ShowCursor()
		_, _ = fmt.Fprintln(Output)
	})
}

// StopProgressBar stops the progress bar attached to the loop, if any, restoring the terminal
// cursor. Loop.Run only calls the OnEnd hooks when it succeeds, so callers should use it when Run
// fails. It is a no-op if the progress bar was already stopped.
func StopProgressBar(loop *tuner.Loop) {
	if pBar, ok := loop.SharedData[ProgressBarName].(*progressBar); ok {
		pBar.stop()
	}
}

func (pBar *progressBar) extraRows() [][2]string {
	rows := make([][2]string, 0, len(pBar.extraMetricFns))
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		rows = append(rows, [2]string{name, value})
	}
	return rows
}

// startDrawing starts the goroutine that draws the updates.
// Updates are drawn asynchronously, so a slow terminal (e.g. over a network connection) never holds the tuner.
func (pBar *progressBar) startDrawing() {
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so things are not blocked.
	pBar.isFirstOutput = true
	pBar.asyncUpdatesDone.Add(1)
	go func() {
		defer pBar.asyncUpdatesDone.Done()
		var numLinesPrinted int
		for update := range pBar.updates {
			// Exhaust the updates in the buffer:
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-pBar.updates:
					if !ok {
						break exhaust
					}
					amount += newUpdate.amount
					update = newUpdate
				default:
					break exhaust
				}
			}

			pBar.statsTable.Data(lgtable.NewStringData())
			for _, row := range update.rows {
				pBar.statsTable.Row(row[0], row[1])
			}

			// For command-line, we clear the previous lines that will be overwritten.
			pBar.termenv.HideCursor()
			if !pBar.isFirstOutput {
				pBar.termenv.CursorPrevLine(numLinesPrinted)
			}
			pBar.isFirstOutput = false

			_, _ = fmt.Fprintln(Output, pBar.statsStyle.Render(pBar.statsTable.String()))
			_ = pBar.bar.Add(amount) // Prints progress bar line.
			_, _ = fmt.Fprintln(Output)
			numLinesPrinted = len(update.rows) + 2 + 2 // Rows, table borders, bar and new line.
			pBar.termenv.ShowCursor()
			time.Sleep(maxUpdateFrequency)
		}
	}()
}

// StatsRows returns the rows (name and value) of the stats table displayed by the progress bar.
func StatsRows(loop *tuner.Loop, stats controller.Stats) [][2]string {
	rows := [][2]string{
		{"Epoch", fmt.Sprintf("%s of %s", humanizeInt(loop.Tuner.Epoch()), humanizeInt(loop.EndEpoch))},
		{"Controller step", humanizeInt(stats.Step)},
		{"Median epoch duration", FormatDuration(loop.MedianEpochDuration())},
		{"Loss", fmt.Sprintf("%.3f", stats.Loss)},
		{"Entropy", fmt.Sprintf("%.2f", stats.Entropy)},
		{"Learning rate", fmt.Sprintf("%.4g", stats.LearningRate)},
		{"|g|", fmt.Sprintf("%.4f", stats.GradNorm)},
		{"Valid acc", fmt.Sprintf("%.4f", stats.ValidAcc)},
		{"Baseline", fmt.Sprintf("%.2f", stats.Baseline)},
		{"Child acc", fmt.Sprintf("%.2f", stats.ChildAcc)},
		{"Epoch rate", formatRate(len(loop.EpochDurations), totalDuration(loop.EpochDurations))},
	}
	if best := loop.Tuner.Best(); best != nil {
		rows = append(rows, [2]string{"Best reward", fmt.Sprintf("%.4f (epoch %d)", best.Reward, best.Epoch)})
	}
	return rows
}

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop, so that
// everytime Loop is run, it will display a progress bar over the epochs along with the
// latest controller stats.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(loop *tuner.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		extraMetricFns: extraMetrics,
		termenv:        termenv.NewOutput(Output),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	loop.SharedData[ProgressBarName] = pBar
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	loop.OnEpoch(ProgressBarName, 0, pBar.onEpoch)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

// humanizeInt formats the integer with "_" as thousands separator, as in Go literals.
func humanizeInt[I constraints.Integer](nI I) string {
	n := int64(nI)
	str := fmt.Sprintf("%d", n)
	var sign string
	if n < 0 {
		sign, str = "-", str[1:]
	}
	result := make([]byte, 0, len(str)+len(str)/3)
	for i := range len(str) {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, '_')
		}
		result = append(result, str[i])
	}
	return sign + string(result)
}
