// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// enas_controller runs the ENAS architecture controller: every epoch it samples a batch of
// child-network architectures, writes them to `<output_dir>/<arc_prefix><epoch>.txt`, waits for the
// child trainer to write their validation accuracies to `<output_dir>/<reward_prefix><epoch>.txt`,
// and trains the controller with them.
//
// It checkpoints after every epoch in --output_dir, and resumes from the latest checkpoint if one is
// found there.
//
// Example:
//
//	enas_controller -output_dir=~/tmp/enas -search_for=micro -set="controller_lr=0.001;child_num_cells=5"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/nas/checkpoints"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/handoff"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/gomlx/enas/pkg/nas/tuner"
	"github.com/gomlx/enas/pkg/support/fsutil"
	"github.com/gomlx/enas/ui/commandline"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagOutputDir      = flag.String("output_dir", "~/tmp/enas", "Directory for the hand-off files with the child trainer, the checkpoints and the log file.")
	flagSearchFor      = flag.String("search_for", "", `Search space: "micro" (cells) or "macro" (whole network). If empty uses the "search_for" hyperparameter.`)
	flagNumEpochs      = flag.Int("num_epochs", 0, `Number of epochs to run. If 0 uses the "num_epochs" hyperparameter.`)
	flagConfig         = flag.String("config", "", "YAML file with hyperparameters. It is applied before --set.")
	flagArcPrefix      = flag.String("arc_prefix", handoff.DefaultArcPrefix, "File prefix of the architectures written for the child trainer.")
	flagRewardPrefix   = flag.String("reward_prefix", handoff.DefaultRewardPrefix, "File prefix of the rewards written by the child trainer.")
	flagRewardTimeout  = flag.Duration("reward_timeout", 0, "Maximum time to wait for the rewards of one epoch. 0 waits forever.")
	flagPollInterval   = flag.Duration("poll_interval", handoff.DefaultPollInterval, "Maximum interval between checks of the rewards file.")
	flagCheckpointKeep = flag.Int("checkpoint_keep", 3, "Number of checkpoints to keep. Use -1 to keep all.")
	flagProgress       = flag.Bool("progress", false, "Display a progress bar with the controller stats.")
)

// logFileName is created in --output_dir, unless klog flags configure logging otherwise.
const logFileName = "enas_controller.log"

func main() {
	klog.InitFlags(nil)
	p := tuner.DefaultParams()
	settings := params.CreateSettingsFlag(p, "")
	flag.Parse()

	outputDir := must.M1(fsutil.PrepareDir(*flagOutputDir))
	configureLogFile(outputDir)
	defer klog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := exceptions.TryCatch[error](func() {
		must.M(run(ctx, outputDir, p, *settings))
	})
	if err != nil {
		klog.Errorf("enas_controller failed: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// configureLogFile sends the logs to outputDir/enas_controller.log, if the user didn't set any of
// the klog output flags.
func configureLogFile(outputDir string) {
	userSet := false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log_file", "log_dir", "logtostderr", "alsologtostderr":
			userSet = true
		}
	})
	if userSet {
		return
	}
	must.M(flag.Set("logtostderr", "false"))
	must.M(flag.Set("alsologtostderr", "true"))
	must.M(flag.Set("log_file", filepath.Join(outputDir, logFileName)))
}

// parseParams applies, in order: the YAML config, the --set settings and the explicit flags.
// It returns the names of the parameters set by the user.
func parseParams(p *params.Params, settings string) (paramsSet []string, err error) {
	if *flagConfig != "" {
		fromYAML, err := params.LoadYAML(p, must.M1(fsutil.ExpandHome(*flagConfig)))
		if err != nil {
			return nil, err
		}
		paramsSet = append(paramsSet, fromYAML...)
	}
	fromSettings, err := params.ParseSettings(p, settings)
	if err != nil {
		return nil, err
	}
	paramsSet = append(paramsSet, fromSettings...)
	if *flagSearchFor != "" {
		p.Set(tuner.ParamSearchFor, *flagSearchFor)
		paramsSet = append(paramsSet, tuner.ParamSearchFor)
	}
	if *flagNumEpochs > 0 {
		p.Set(tuner.ParamNumEpochs, *flagNumEpochs)
		paramsSet = append(paramsSet, tuner.ParamNumEpochs)
	}
	return paramsSet, nil
}

func run(ctx context.Context, outputDir string, p *params.Params, settings string) error {
	paramsSet, err := parseParams(p, settings)
	if err != nil {
		return err
	}

	handler, err := checkpoints.Build(outputDir).Keep(*flagCheckpointKeep).Done()
	if err != nil {
		return err
	}
	latest := handler.Latest()
	if latest != nil {
		// Hyperparameters set explicitly by the user take precedence over the checkpointed ones.
		latest.RestoreParams(p, paramsSet...)
	}
	if len(paramsSet) > 0 {
		klog.Infof("Hyperparameters set:\n%s", p.SprintModified(paramsSet))
	}
	klog.V(1).Infof("All hyperparameters:\n%s", p)

	ctrlCfg := tuner.ControllerConfigFromParams(p)
	ctrl, err := controller.New(ctrlCfg)
	if err != nil {
		return err
	}
	channel, err := handoff.New(outputDir, arcs.SearchSpaceFromName(ctrlCfg.SearchFor))
	if err != nil {
		return err
	}
	channel.ArcPrefix = *flagArcPrefix
	channel.RewardPrefix = *flagRewardPrefix
	channel.Timeout = *flagRewardTimeout
	channel.PollInterval = *flagPollInterval

	t, err := tuner.New(ctrl, channel, tuner.ConfigFromParams(p))
	if err != nil {
		return err
	}
	if latest != nil {
		if err = t.Restore(latest); err != nil {
			return errors.WithMessagef(err, "resuming from checkpoint in %s", handler.Dir())
		}
	}
	klog.Infof("run %s: %s search, %d parameters, epoch %d of %d, hand-off files in %s",
		handler.RunID(), ctrl.SearchSpace(), ctrl.Snapshot().NumParams(), t.Epoch(), t.Config().NumEpochs, channel.Dir)

	loop := tuner.NewLoop(t)
	tuner.AttachCheckpoints(loop, handler, p)
	if *flagProgress {
		commandline.AttachProgressBar(loop, func() (string, string) {
			return "Run", handler.RunID()
		})
		defer commandline.StopProgressBar(loop)
	} else {
		tuner.PeriodicCallback(loop, time.Minute, true, "report", 0,
			func(loop *tuner.Loop, stats controller.Stats) error {
				klog.Infof("epoch %d of %d (median epoch %s): %s", loop.Tuner.Epoch(), loop.EndEpoch,
					commandline.FormatDuration(loop.MedianEpochDuration()), stats)
				return nil
			})
	}
	start := time.Now()
	if err = loop.Run(ctx); err != nil {
		return err
	}
	klog.Infof("finished %d epochs in %s", loop.EndEpoch-loop.StartEpoch, commandline.FormatDuration(time.Since(start)))
	if best := t.Best(); best != nil {
		fmt.Printf("Best architecture (epoch %d, reward %.4f):\n", best.Epoch, best.Reward)
		fmt.Printf("  normal: %s\n", best.Sample.Normal)
		if best.Sample.Reduce != nil {
			fmt.Printf("  reduce: %s\n", best.Sample.Reduce)
		}
	}
	return nil
}
