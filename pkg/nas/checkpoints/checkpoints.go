// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements checkpoint management of the ENAS tuner: saving and loading the
// controller state, the hyperparameters and the history of the search.
//
// The main object is the Handler, that should be created by calling Build, followed by the
// various options setting and finally calling Config.Done.
// Once created, if a previous saved checkpoint exists, it is loaded and available with
// Handler.Latest, so the tuner can resume from it.
// And as the search runs, one can call Handler.Save() at any time to save a new checkpoint --
// typically one will do that at the end of every epoch.
//
// Example:
//
//	handler, err := checkpoints.Build(*flagOutputDir).Keep(*flagCheckpointKeep).Done()
//	if err != nil { ... }
//	if latest := handler.Latest(); latest != nil {
//		must.M(t.Restore(latest))
//	}
//	loop := tuner.NewLoop(t)
//	tuner.AttachCheckpoints(loop, handler, p)
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/gomlx/enas/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config for the checkpoints Handler to be created. This is created with Build() and
// configured with the various methods. Once finished, call Done() and it will output
// a checkpoints.Handler that loads (if there are any previously saved checkpoints) and
// saves checkpoints.
type Config struct {
	err  error
	dir  string
	keep int
}

// Build a configuration for building a checkpoints.Handler that saves in dir.
// After configuring the Config object returned, call `Done` to get the configured checkpoints.Handler.
func Build(dir string) *Config {
	c := &Config{keep: 1}
	c.dir, c.err = fsutil.PrepareDir(dir)
	return c
}

// Keep configures the number of checkpoints to keep. If set to -1, it will keep all of them.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	if n == 0 || n < -1 {
		c.err = errors.Errorf("checkpoints.Keep(%d) is invalid, it must be -1 (keep all) or > 0", n)
	}
	c.keep = n
	return c
}

// Done creates a Handler with the current configuration. It loads the latest checkpoint, if any.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	h := &Handler{config: *c, runID: uuid.NewString()}
	list, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	h.checkpointsCount = maxCheckPointCountFromCheckpoints(list) + 1
	if len(list) > 0 {
		if h.latest, err = h.Load(list[len(list)-1]); err != nil {
			return nil, err
		}
		h.runID = h.latest.RunID
		klog.Infof("%s: loaded checkpoint %q (epoch %d)", h, list[len(list)-1], h.latest.Epoch)
	}
	return h, nil
}

// Handler saves and loads checkpoints of one directory. Create it with Build.
type Handler struct {
	config           Config
	runID            string
	checkpointsCount int
	latest           *Checkpoint
}

// Checkpoint is the contents of one checkpoint file.
type Checkpoint struct {
	// RunID identifies the experiment, it is kept when resuming from a checkpoint.
	RunID string

	// Epoch is the number of epochs finished.
	Epoch int

	Time time.Time

	Params []SerializedParam `json:",omitempty"`

	Controller *controller.Snapshot

	History []EpochSummary `json:",omitempty"`

	// Best is the architecture with the highest reward seen so far.
	Best *BestSample `json:",omitempty"`
}

// EpochSummary summarizes one epoch of the search.
type EpochSummary struct {
	Epoch      int
	NumSamples int
	MeanReward float64
	MaxReward  float64

	// Stats of the last controller train step of the epoch.
	Stats controller.Stats
}

// BestSample is a sampled architecture and its reward.
type BestSample struct {
	Epoch  int
	Reward float64
	Sample arcs.Sample
}

// SerializedParam represents a serialized hyperparameter.
// It includes the original ValueType, because Json decoder may
// not be capable of recovering the original type in anonymous (any) Value.
type SerializedParam struct {
	Key       string
	Value     any
	ValueType string
}

// SerializeParams converts the hyperparameters to their serialized form, in key order.
func SerializeParams(p *params.Params) []SerializedParam {
	var out []SerializedParam
	p.Enumerate(func(key string, value any) {
		out = append(out, SerializedParam{Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)})
	})
	return out
}

// RestoreParams sets the hyperparameters saved in the checkpoint into p, except the keys listed in
// exclude -- typically the ones explicitly set by the user in the command line.
// Parameters not known by p are ignored.
func (c *Checkpoint) RestoreParams(p *params.Params, exclude ...string) {
	excluded := make(map[string]bool, len(exclude))
	for _, key := range exclude {
		excluded[key] = true
	}
	for _, sp := range c.Params {
		if excluded[sp.Key] || !p.Has(sp.Key) {
			continue
		}
		p.Set(sp.Key, sp.Value)
	}
}

// jsonDecodeTypeConvert attempts to convert the Value decoded by Json into
// the original ValueType.
//
// E.g.: Json decoder will decode all numbers to float64. So we cast it to the
// given ValueType.
func (p *SerializedParam) jsonDecodeTypeConvert() {
	switch value := p.Value.(type) {
	case float64:
		// All numbers when converted to `any` by the json decoders become float64,
		// here we convert them back.
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int64":
			p.Value = int64(value)
		case "uint64":
			p.Value = uint64(value)
		}

	case []any:
		switch p.ValueType {
		case "[]int":
			list := make([]int, len(value))
			for ii, e := range value {
				f, _ := e.(float64) // Json decoder converts any numbers to float64.
				list[ii] = int(f)
			}
			p.Value = list
		case "[]float64":
			list := make([]float64, len(value))
			for ii, e := range value {
				list[ii], _ = e.(float64)
			}
			p.Value = list
		case "[]string":
			list := make([]string, len(value))
			for ii, e := range value {
				list[ii], _ = e.(string)
			}
			p.Value = list
		}
	}
}

// String implements Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory where the checkpoints are saved.
func (h *Handler) Dir() string {
	return h.config.dir
}

// RunID of the experiment: a new one, or the one of the checkpoint loaded.
func (h *Handler) RunID() string {
	return h.runID
}

// Latest returns the latest checkpoint loaded or saved. It is nil if there were no checkpoints.
func (h *Handler) Latest() *Checkpoint {
	return h.latest
}

const (
	baseNamePrefix = "checkpoint-"
	jsonNameSuffix = ".json"
)

// newCheckpointBaseName returns the base name for the checkpoint files.
func (h *Handler) newCheckpointBaseName(epoch int) string {
	now := time.Now().Format("20060102-150405")
	return fmt.Sprintf("%sn%07d-%s-epoch-%06d", baseNamePrefix, h.checkpointsCount, now, epoch)
}

// ListCheckpoints returns the base file name of the checkpoints in the directory in time order (older first).
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, jsonNameSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, jsonNameSuffix))
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckPointCountFromCheckpoints returns the largest `checkpointCount` in the saved
// checkpoints -- so the next checkpoint saved uses this count+1.
//
// The input should be the output of Handler.ListCheckpoints.
func maxCheckPointCountFromCheckpoints(checkpoints []string) int {
	maxID := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		maxID = max(maxID, id)
	}
	return maxID
}

// Load reads the checkpoint with the given base name (as returned by ListCheckpoints).
func (h *Handler) Load(baseName string) (*Checkpoint, error) {
	return LoadFile(filepath.Join(h.config.dir, baseName+jsonNameSuffix))
}

// LoadFile reads a checkpoint file.
func LoadFile(filePath string) (*Checkpoint, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint file %s", filePath)
	}
	defer func() { _ = f.Close() }()
	var c *Checkpoint
	if err = json.NewDecoder(f).Decode(&c); err != nil {
		return nil, errors.Wrapf(err, "failed to decode contents of checkpoint file %s", filePath)
	}
	if c == nil || c.Controller == nil {
		return nil, errors.Errorf("checkpoint file %s has no controller state", filePath)
	}
	for ii := range c.Params {
		c.Params[ii].jsonDecodeTypeConvert()
	}
	return c, nil
}

// Save a new checkpoint. The RunID and Time are set by the Handler.
// Older checkpoints beyond the number configured with Keep are removed.
func (h *Handler) Save(c *Checkpoint) error {
	c.RunID = h.runID
	c.Time = time.Now()
	baseName := h.newCheckpointBaseName(c.Epoch)
	h.checkpointsCount++
	filePath := filepath.Join(h.config.dir, baseName+jsonNameSuffix)

	// Write to a temporary file and rename, so a crash never leaves a truncated checkpoint behind.
	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint file %s", h, tmpPath)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "%s: failed to encode checkpoint", h)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint file %s", h, tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "%s: failed to rename checkpoint file to %s", h, filePath)
	}
	h.latest = c
	klog.V(1).Infof("%s: saved %q", h, baseName)
	return h.keepNCheckpoints()
}

// keepNCheckpoints removes the oldest checkpoints, keeping only the configured number.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return err
	}
	for len(list) > h.config.keep {
		filePath := filepath.Join(h.config.dir, list[0]+jsonNameSuffix)
		if err = os.Remove(filePath); err != nil {
			return errors.Wrapf(err, "%s: failed to remove old checkpoint %s", h, filePath)
		}
		list = list[1:]
	}
	return nil
}
