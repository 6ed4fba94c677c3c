// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// enas_checkpoints reports on the checkpoints saved by enas_controller in a directory.
//
// Example:
//
//	enas_checkpoints -params -history ~/tmp/enas
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/enas/pkg/nas/checkpoints"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/gomlx/enas/pkg/support/fsutil"
	"github.com/gomlx/enas/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagList    = flag.Bool("list", false, "List all checkpoints in the directory.")
	flagParams  = flag.Bool("params", false, "Lists the hyperparameters of the latest checkpoint.")
	flagHistory = flag.Bool("history", false, "Lists the per-epoch history of the latest checkpoint.")
	flagLast    = flag.Int("last", 0, "If > 0, only the last epochs of the history are listed.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'enas_checkpoints -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'enas_checkpoints -help'.")
		os.Exit(1)
	}
	report(must.M1(fsutil.ExpandHome(args[0])))
}

func report(dir string) {
	handler := must.M1(checkpoints.Build(dir).Keep(-1).Done())
	latest := handler.Latest()
	if latest == nil {
		klog.Errorf("No checkpoints found in %q", dir)
		os.Exit(1)
	}

	fmt.Println(commandline.TitleStyle.Render("Summary"))
	table := commandline.NewPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("directory", dir)
	table.Row("run id", latest.RunID)
	table.Row("saved", fmt.Sprintf("%s (%s)", latest.Time.Format("2006-01-02 15:04:05"), humanize.Time(latest.Time)))
	table.Row("epochs", humanize.Comma(int64(latest.Epoch)))
	table.Row("search space", string(latest.Controller.SearchSpace))
	table.Row("controller step", humanize.Comma(int64(latest.Controller.TrainStep)))
	table.Row("# parameters", humanize.Comma(int64(latest.Controller.NumParams())))
	table.Row("baseline", fmt.Sprintf("%.4f", latest.Controller.Baseline))
	if best := latest.Best; best != nil {
		table.Row("best reward", fmt.Sprintf("%.4f (epoch %d)", best.Reward, best.Epoch))
		table.Row("best normal arc", best.Sample.Normal.String())
		if best.Sample.Reduce != nil {
			table.Row("best reduce arc", best.Sample.Reduce.String())
		}
	}
	fmt.Println(table.Render())

	if *flagList {
		fmt.Println(commandline.TitleStyle.Render("Checkpoints"))
		table := commandline.NewPlainTable(lipgloss.Left, lipgloss.Right).Headers("Name", "Size")
		for _, name := range must.M1(handler.ListCheckpoints()) {
			info := must.M1(os.Stat(filepath.Join(dir, name+".json")))
			table.Row(name, humanize.Bytes(uint64(info.Size())))
		}
		fmt.Println(table.Render())
	}

	if *flagParams {
		fmt.Println(commandline.TitleStyle.Render("Hyperparameters"))
		p := params.New()
		for _, sp := range latest.Params {
			p.Set(sp.Key, sp.Value)
		}
		fmt.Println(commandline.ParamsTable(p).Render())
	}

	if *flagHistory {
		fmt.Println(commandline.TitleStyle.Render("History"))
		history := latest.History
		if *flagLast > 0 && len(history) > *flagLast {
			history = history[len(history)-*flagLast:]
		}
		fmt.Println(commandline.HistoryTable(history).Render())
	}
}
