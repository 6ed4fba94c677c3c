// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for the command line: a progress bar for the
// tuner loop and tables reporting hyperparameters and the search history.
package commandline

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/enas/pkg/nas/checkpoints"
	"github.com/gomlx/enas/pkg/nas/params"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	// TitleStyle is used for the titles of the reports.
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// NewPlainTable returns a table with alternating row styles. The alignments are given per column,
// and the last one is used for the remaining columns. The default is left aligned.
func NewPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// ParamsTable lists the hyperparameters, their types and values. If keys is not empty, only those
// are listed.
func ParamsTable(p *params.Params, keys ...string) *lgtable.Table {
	table := NewPlainTable(lipgloss.Right, lipgloss.Left).Headers("Name", "Type", "Value")
	if len(keys) == 0 {
		keys = p.Keys()
	}
	for _, key := range keys {
		value, found := p.Get(key)
		if !found {
			continue
		}
		table.Row(key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
	}
	return table
}

// HistoryTable lists the summaries of the epochs of a search.
func HistoryTable(history []checkpoints.EpochSummary) *lgtable.Table {
	table := NewPlainTable(lipgloss.Right).
		Headers("Epoch", "Samples", "Mean reward", "Max reward", "Ctrl step", "Loss", "Entropy", "LR", "Baseline")
	for _, s := range history {
		table.Row(
			humanizeInt(s.Epoch),
			humanizeInt(s.NumSamples),
			fmt.Sprintf("%.4f", s.MeanReward),
			fmt.Sprintf("%.4f", s.MaxReward),
			humanizeInt(s.Stats.Step),
			fmt.Sprintf("%.3f", s.Stats.Loss),
			fmt.Sprintf("%.2f", s.Stats.Entropy),
			fmt.Sprintf("%.4g", s.Stats.LearningRate),
			fmt.Sprintf("%.3f", s.Stats.Baseline),
		)
	}
	return table
}
