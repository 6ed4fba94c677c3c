// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// enas_fake_child plays the part of the child trainer, for testing enas_controller end-to-end
// without training any network: for each epoch it waits for the architectures, and writes back
// a synthetic validation accuracy for each of them.
//
// The accuracy rewards architectures using operation --good_op, plus some noise, so the controller
// is expected to learn to prefer it.
package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/nas/handoff"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagOutputDir    = flag.String("output_dir", "~/tmp/enas", "Directory with the hand-off files.")
	flagSearchFor    = flag.String("search_for", "micro", `Search space: "micro" or "macro".`)
	flagNumEpochs    = flag.Int("num_epochs", 150, "Number of epochs to serve.")
	flagStartEpoch   = flag.Int("start_epoch", 0, "First epoch to serve.")
	flagGoodOp       = flag.Int("good_op", 1, "Operation rewarded by the synthetic accuracy.")
	flagNoise        = flag.Float64("noise", 0.05, "Standard deviation of the noise added to the accuracies.")
	flagSeed         = flag.Uint64("seed", 42, "Random seed.")
	flagPollInterval = flag.Duration("poll_interval", 200*time.Millisecond, "Interval between checks for the architectures file.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	space := arcs.SearchSpaceFromName(*flagSearchFor)
	channel := must.M1(handoff.New(*flagOutputDir, space))
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed))
	for epoch := *flagStartEpoch; epoch < *flagNumEpochs; epoch++ {
		batch, err := waitArcs(ctx, channel, epoch)
		if err != nil {
			klog.Errorf("epoch %d: %+v", epoch, err)
			os.Exit(1)
		}
		rewards := make([]float64, batch.Len())
		for ii, sample := range batch.Samples {
			rewards[ii] = min(max(accuracy(space, sample)+rng.NormFloat64()*(*flagNoise), 0), 1)
		}
		must.M(channel.SendRewards(epoch, rewards))
		klog.Infof("epoch %d: wrote %d rewards", epoch, len(rewards))
	}
}

// waitArcs polls until the architectures of the epoch can be read.
func waitArcs(ctx context.Context, channel *handoff.Channel, epoch int) (*arcs.Batch, error) {
	ticker := time.NewTicker(*flagPollInterval)
	defer ticker.Stop()
	for {
		batch, err := channel.ReadArcs(epoch)
		if err == nil {
			return batch, nil
		}
		klog.V(2).Infof("epoch %d: architectures not available yet: %v", epoch, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// accuracy is the fraction of operations in the sample equal to --good_op.
func accuracy(space arcs.SearchSpace, sample arcs.Sample) float64 {
	var good, total int
	count := func(op int) {
		total++
		if op == *flagGoodOp {
			good++
		}
	}
	if space == arcs.Micro {
		// Micro arcs are (input, op) pairs.
		for _, arc := range []arcs.Arc{sample.Normal, sample.Reduce} {
			for pos := 1; pos < len(arc); pos += 2 {
				count(arc[pos])
			}
		}
	} else {
		// Macro arcs hold, for each layer i, its op followed by i skip bits.
		pos := 0
		for layer := 0; pos < len(sample.Normal); layer++ {
			count(sample.Normal[pos])
			pos += 1 + layer
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}
