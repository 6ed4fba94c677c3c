// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tuner

import (
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/pkg/errors"
)

// Names of the hyperparameters of an ENAS experiment, see DefaultParams.
const (
	ParamSearchFor     = "search_for"
	ParamNumEpochs     = "num_epochs"
	ParamTrainDataSize = "train_data_size"
	ParamBatchSize     = "batch_size"
	ParamLogEvery      = "log_every"

	ParamChildNumCells    = "child_num_cells"
	ParamChildNumLayers   = "child_num_layers"
	ParamChildNumBranches = "child_num_branches"
	ParamChildOutFilters  = "child_out_filters"

	ParamControllerTraining            = "controller_training"
	ParamControllerTrainSteps          = "controller_train_steps"
	ParamControllerNumAggregate        = "controller_num_aggregate"
	ParamControllerNumReplicas         = "controller_num_replicas"
	ParamControllerSyncReplicas        = "controller_sync_replicas"
	ParamControllerSearchWholeChannels = "controller_search_whole_channels"
	ParamControllerSkipTarget          = "controller_skip_target"
	ParamControllerSkipWeight          = "controller_skip_weight"
	ParamControllerTanhConstant        = "controller_tanh_constant"
	ParamControllerOpTanhReduce        = "controller_op_tanh_reduce"
	ParamControllerTemperature         = "controller_temperature"
	ParamControllerLR                  = "controller_lr"
	ParamControllerLRDecStart          = "controller_lr_dec_start"
	ParamControllerLRDecEvery          = "controller_lr_dec_every"
	ParamControllerLRDecRate           = "controller_lr_dec_rate"
	ParamControllerLRDecMin            = "controller_lr_dec_min"
	ParamControllerLRCosine            = "controller_lr_cosine"
	ParamControllerLRCosinePeriod      = "controller_lr_cosine_period"
	ParamControllerL2Reg               = "controller_l2_reg"
	ParamControllerEntropyWeight       = "controller_entropy_weight"
	ParamControllerBLDec               = "controller_bl_dec"
	ParamControllerUseCritic           = "controller_use_critic"
	ParamControllerOptimAlgo           = "controller_optim_algo"
	ParamControllerGradBound           = "controller_grad_bound"
	ParamControllerLSTMSize            = "controller_lstm_size"
	ParamControllerLSTMNumLayers       = "controller_lstm_num_layers"
	ParamControllerLSTMKeepProb        = "controller_lstm_keep_prob"
	ParamControllerSeed                = "controller_seed"
)

// DefaultParams returns the hyperparameters of an ENAS micro search on CIFAR-10, with its defaults.
func DefaultParams() *params.Params {
	ctrl := controller.DefaultConfig()
	return params.New().SetMany(map[string]any{
		ParamSearchFor:     ctrl.SearchFor,
		ParamNumEpochs:     150,
		ParamTrainDataSize: 45_000,
		ParamBatchSize:     160,
		ParamLogEvery:      50,

		ParamChildNumCells:    ctrl.NumCells,
		ParamChildNumLayers:   ctrl.NumLayers,
		ParamChildNumBranches: ctrl.NumBranches,
		ParamChildOutFilters:  ctrl.OutFilters,

		ParamControllerTraining:            true,
		ParamControllerTrainSteps:          30,
		ParamControllerNumAggregate:        10,
		ParamControllerNumReplicas:         ctrl.NumReplicas,
		ParamControllerSyncReplicas:        true,
		ParamControllerSearchWholeChannels: ctrl.SearchWholeChannels,
		ParamControllerSkipTarget:          ctrl.SkipTarget,
		ParamControllerSkipWeight:          ctrl.SkipWeight,
		ParamControllerTanhConstant:        ctrl.TanhConstant,
		ParamControllerOpTanhReduce:        ctrl.OpTanhReduce,
		ParamControllerTemperature:         ctrl.Temperature,
		ParamControllerLR:                  ctrl.LRInit,
		ParamControllerLRDecStart:          ctrl.LRDecStart,
		ParamControllerLRDecEvery:          ctrl.LRDecEvery,
		ParamControllerLRDecRate:           ctrl.LRDecRate,
		ParamControllerLRDecMin:            ctrl.LRDecMin,
		ParamControllerLRCosine:            ctrl.LRCosine,
		ParamControllerLRCosinePeriod:      ctrl.LRCosinePeriod,
		ParamControllerL2Reg:               ctrl.L2Reg,
		ParamControllerEntropyWeight:       ctrl.EntropyWeight,
		ParamControllerBLDec:               ctrl.BLDec,
		ParamControllerUseCritic:           ctrl.UseCritic,
		ParamControllerOptimAlgo:           ctrl.OptimAlgo,
		ParamControllerGradBound:           ctrl.GradBound,
		ParamControllerLSTMSize:            ctrl.LSTMSize,
		ParamControllerLSTMNumLayers:       ctrl.LSTMNumLayers,
		ParamControllerLSTMKeepProb:        ctrl.LSTMKeepProb,
		ParamControllerSeed:                int(ctrl.Seed),
	})
}

// ControllerConfigFromParams builds the controller configuration from the hyperparameters.
// Parameters not set take the values of controller.DefaultConfig.
func ControllerConfigFromParams(p *params.Params) controller.Config {
	cfg := controller.DefaultConfig()
	cfg.SearchFor = params.GetOr(p, ParamSearchFor, cfg.SearchFor)
	cfg.SearchWholeChannels = params.GetOr(p, ParamControllerSearchWholeChannels, cfg.SearchWholeChannels)
	cfg.SkipTarget = params.GetOr(p, ParamControllerSkipTarget, cfg.SkipTarget)
	cfg.SkipWeight = params.GetOr(p, ParamControllerSkipWeight, cfg.SkipWeight)
	cfg.NumCells = params.GetOr(p, ParamChildNumCells, cfg.NumCells)
	cfg.NumLayers = params.GetOr(p, ParamChildNumLayers, cfg.NumLayers)
	cfg.NumBranches = params.GetOr(p, ParamChildNumBranches, cfg.NumBranches)
	cfg.OutFilters = params.GetOr(p, ParamChildOutFilters, cfg.OutFilters)
	cfg.LSTMSize = params.GetOr(p, ParamControllerLSTMSize, cfg.LSTMSize)
	cfg.LSTMNumLayers = params.GetOr(p, ParamControllerLSTMNumLayers, cfg.LSTMNumLayers)
	cfg.LSTMKeepProb = params.GetOr(p, ParamControllerLSTMKeepProb, cfg.LSTMKeepProb)
	cfg.TanhConstant = params.GetOr(p, ParamControllerTanhConstant, cfg.TanhConstant)
	cfg.OpTanhReduce = params.GetOr(p, ParamControllerOpTanhReduce, cfg.OpTanhReduce)
	cfg.Temperature = params.GetOr(p, ParamControllerTemperature, cfg.Temperature)
	cfg.LRInit = params.GetOr(p, ParamControllerLR, cfg.LRInit)
	cfg.LRDecStart = params.GetOr(p, ParamControllerLRDecStart, cfg.LRDecStart)
	cfg.LRDecEvery = params.GetOr(p, ParamControllerLRDecEvery, cfg.LRDecEvery)
	cfg.LRDecRate = params.GetOr(p, ParamControllerLRDecRate, cfg.LRDecRate)
	cfg.LRDecMin = params.GetOr(p, ParamControllerLRDecMin, cfg.LRDecMin)
	cfg.LRCosine = params.GetOr(p, ParamControllerLRCosine, cfg.LRCosine)
	cfg.LRCosinePeriod = params.GetOr(p, ParamControllerLRCosinePeriod, cfg.LRCosinePeriod)
	cfg.L2Reg = params.GetOr(p, ParamControllerL2Reg, cfg.L2Reg)
	cfg.EntropyWeight = params.GetOr(p, ParamControllerEntropyWeight, cfg.EntropyWeight)
	cfg.BLDec = params.GetOr(p, ParamControllerBLDec, cfg.BLDec)
	cfg.UseCritic = params.GetOr(p, ParamControllerUseCritic, cfg.UseCritic)
	cfg.OptimAlgo = params.GetOr(p, ParamControllerOptimAlgo, cfg.OptimAlgo)
	cfg.GradBound = params.GetOr(p, ParamControllerGradBound, cfg.GradBound)
	cfg.SyncReplicas = params.GetOr(p, ParamControllerSyncReplicas, cfg.SyncReplicas)
	cfg.NumAggregate = params.GetOr(p, ParamControllerNumAggregate, cfg.NumAggregate)
	cfg.NumReplicas = params.GetOr(p, ParamControllerNumReplicas, cfg.NumReplicas)
	cfg.Seed = uint64(params.GetOr(p, ParamControllerSeed, int(cfg.Seed)))
	return cfg
}

// Config of the tuner epoch loop.
type Config struct {
	// NumEpochs is the total number of epochs, including the ones restored from a checkpoint.
	NumEpochs int

	// ControllerTrainSteps * ControllerNumAggregate architectures are sampled and trained on per epoch.
	ControllerTrainSteps, ControllerNumAggregate int

	// ControllerTraining enables training the controller with the rewards. If false the tuner only
	// samples architectures.
	ControllerTraining bool

	// LogEvery controller train steps the controller stats are logged.
	LogEvery int

	// TrainDataSize and BatchSize of the child networks: only used to report ChildTotalSteps.
	TrainDataSize, BatchSize int
}

// ConfigFromParams builds the tuner configuration from the hyperparameters.
func ConfigFromParams(p *params.Params) Config {
	return Config{
		NumEpochs:              params.GetOr(p, ParamNumEpochs, 150),
		ControllerTrainSteps:   params.GetOr(p, ParamControllerTrainSteps, 30),
		ControllerNumAggregate: params.GetOr(p, ParamControllerNumAggregate, 1),
		ControllerTraining:     params.GetOr(p, ParamControllerTraining, true),
		LogEvery:               params.GetOr(p, ParamLogEvery, 50),
		TrainDataSize:          params.GetOr(p, ParamTrainDataSize, 45_000),
		BatchSize:              params.GetOr(p, ParamBatchSize, 160),
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	switch {
	case c.NumEpochs < 0:
		return errors.Errorf("num_epochs must be >= 0, got %d", c.NumEpochs)
	case c.ControllerTrainSteps < 1 || c.ControllerNumAggregate < 1:
		return errors.Errorf("controller_train_steps and controller_num_aggregate must be >= 1, got %d and %d",
			c.ControllerTrainSteps, c.ControllerNumAggregate)
	case c.BatchSize < 1:
		return errors.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	return nil
}

// ChildTotalSteps is the number of child training steps per epoch: ceil(TrainDataSize / BatchSize).
func (c Config) ChildTotalSteps() int {
	if c.BatchSize <= 0 {
		return 0
	}
	return (c.TrainDataSize + c.BatchSize - 1) / c.BatchSize
}

// ControllerTotalSteps is the number of architectures sampled, and controller train steps run, per epoch.
func (c Config) ControllerTotalSteps() int {
	return c.ControllerTrainSteps * c.ControllerNumAggregate
}
