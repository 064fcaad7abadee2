package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cyclegan-forge/internal/loss"
	"cyclegan-forge/internal/metrics"
	"cyclegan-forge/internal/model"
)

// Config captures the runtime knobs for training and inference runs.
type Config struct {
	DataRoot  string `yaml:"data_root"`
	SubFold   string `yaml:"sub_fold"`
	ModelName string `yaml:"model_name"`

	GenModel  string `yaml:"gen_model"`
	DisModel  string `yaml:"dis_model"`
	NGF       int    `yaml:"ngf"`
	NDF       int    `yaml:"ndf"`
	ImageSize int    `yaml:"image_size"`

	GenLR     float64 `yaml:"gen_lr"`
	DisLR     float64 `yaml:"dis_lr"`
	NLinEpoch int     `yaml:"n_lin_epoch"`
	NDecEpoch int     `yaml:"n_dec_epoch"`
	Epochs    int     `yaml:"epochs"`

	IdentityLoss string   `yaml:"identity_loss"`
	CycLoss      string   `yaml:"cyc_loss"`
	Metrics      []string `yaml:"metrics"`

	PoolSize int     `yaml:"pool_size"`
	PoolProb float64 `yaml:"pool_prob"`

	Paired     bool  `yaml:"paired"`
	BatchSize  int   `yaml:"batch_size"`
	NumWorkers int   `yaml:"num_workers"`
	Seed       int64 `yaml:"seed"`
	LogEvery   int   `yaml:"log_every"`

	SnapshotEvery   int   `yaml:"snapshot_every"`
	SnapshotOffset  int   `yaml:"snapshot_offset"`
	SnapshotBatches []int `yaml:"snapshot_batches"`

	CheckpointEvery int      `yaml:"checkpoint_every"`
	CheckpointDir   string   `yaml:"checkpoint_dir"`
	CkptNames       []string `yaml:"ckpt_names"`
	RunDB           string   `yaml:"run_db"`

	// Resolved by Validate.
	Generator     model.GeneratorKind     `yaml:"-"`
	Discriminator model.DiscriminatorKind `yaml:"-"`
	Identity      loss.Kind               `yaml:"-"`
	Cycle         loss.Kind               `yaml:"-"`
	MetricKinds   []metrics.Kind          `yaml:"-"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataRoot   string
	ModelName  string
	Epochs     int
	BatchSize  int
	NumWorkers int
	Seed       int64
	LogEvery   int
}

// Error names the configuration key and value that failed validation.
type Error struct {
	Key    string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config: %s=%q: %s", e.Key, e.Value, e.Reason)
}

func invalid(key string, value any, reason string, args ...any) *Error {
	v := ""
	if value != nil {
		v = fmt.Sprint(value)
	}
	return &Error{Key: key, Value: v, Reason: fmt.Sprintf(reason, args...)}
}

// Default returns a Config holding every optional default.
func Default() *Config {
	return &Config{
		SubFold:         "Test",
		NGF:             64,
		NDF:             64,
		ImageSize:       256,
		PoolSize:        50,
		PoolProb:        0.5,
		NumWorkers:      2,
		Seed:            42,
		LogEvery:        50,
		SnapshotBatches: []int{5, 105, 205, 305, 505},
		CheckpointEvery: 5,
	}
}

// Load reads a YAML config on top of the defaults. Unknown keys are
// rejected. Call one of the Validate methods before use.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.ModelName != "" {
		c.ModelName = o.ModelName
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate checks the keys shared by training and inference and resolves
// the architecture and metric names.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataRoot == "" {
		return invalid("data_root", nil, "required")
	}
	if c.ModelName == "" {
		return invalid("model_name", nil, "required")
	}
	if c.GenModel == "" {
		return invalid("gen_model", nil, "required")
	}
	gen, err := model.ParseGenerator(c.GenModel)
	if err != nil {
		return invalid("gen_model", c.GenModel, "%v", err)
	}
	if c.DisModel == "" {
		return invalid("dis_model", nil, "required")
	}
	dis, err := model.ParseDiscriminator(c.DisModel)
	if err != nil {
		return invalid("dis_model", c.DisModel, "%v", err)
	}
	if c.NGF <= 0 {
		return invalid("ngf", c.NGF, "must be > 0")
	}
	if c.NDF <= 0 {
		return invalid("ndf", c.NDF, "must be > 0")
	}
	if err := gen.CheckSize(c.ImageSize); err != nil {
		return invalid("image_size", c.ImageSize, "%v", err)
	}
	if dis.OutputSize(c.ImageSize) <= 0 {
		return invalid("image_size", c.ImageSize, "too small for %s", dis)
	}
	if c.BatchSize <= 0 {
		return invalid("batch_size", c.BatchSize, "must be > 0")
	}
	if c.NumWorkers <= 0 {
		return invalid("num_workers", c.NumWorkers, "must be > 0")
	}
	kinds := make([]metrics.Kind, 0, len(c.Metrics))
	for _, name := range c.Metrics {
		k, err := metrics.ParseKind(name)
		if err != nil {
			return invalid("metrics", name, "%v", err)
		}
		kinds = append(kinds, k)
	}
	if c.LogEvery <= 0 {
		return invalid("log_every", c.LogEvery, "must be > 0")
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = filepath.Join(c.ModelName, "checkpoints")
	}
	c.Generator = gen
	c.Discriminator = dis
	c.MetricKinds = kinds
	return nil
}

// ValidateTraining checks everything a training run needs.
func (c *Config) ValidateTraining() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GenLR <= 0 {
		return invalid("gen_lr", c.GenLR, "must be > 0")
	}
	if c.DisLR <= 0 {
		return invalid("dis_lr", c.DisLR, "must be > 0")
	}
	if c.NLinEpoch < 0 {
		return invalid("n_lin_epoch", c.NLinEpoch, "must be >= 0")
	}
	if c.NDecEpoch < 0 {
		return invalid("n_dec_epoch", c.NDecEpoch, "must be >= 0")
	}
	if c.Epochs <= 0 {
		c.Epochs = c.NLinEpoch + c.NDecEpoch
	}
	if c.Epochs <= 0 {
		return invalid("epochs", c.Epochs, "n_lin_epoch + n_dec_epoch must be > 0 when epochs is unset")
	}
	if c.IdentityLoss == "" {
		return invalid("identity_loss", nil, "required")
	}
	id, err := loss.ParseKind(c.IdentityLoss)
	if err != nil {
		return invalid("identity_loss", c.IdentityLoss, "%v", err)
	}
	if c.CycLoss == "" {
		return invalid("cyc_loss", nil, "required")
	}
	cyc, err := loss.ParseKind(c.CycLoss)
	if err != nil {
		return invalid("cyc_loss", c.CycLoss, "%v", err)
	}
	if c.PoolSize < 0 {
		return invalid("pool_size", c.PoolSize, "must be >= 0")
	}
	if c.PoolProb < 0 || c.PoolProb > 1 {
		return invalid("pool_prob", c.PoolProb, "must be within [0, 1]")
	}
	if c.SnapshotEvery < 0 {
		return invalid("snapshot_every", c.SnapshotEvery, "must be >= 0")
	}
	if c.CheckpointEvery < 0 {
		return invalid("checkpoint_every", c.CheckpointEvery, "must be >= 0")
	}
	c.Identity = id
	c.Cycle = cyc
	return nil
}

// ValidateInference checks everything a checkpoint sweep needs.
func (c *Config) ValidateInference() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.SubFold {
	case "Test", "Val", "Train":
	default:
		return invalid("sub_fold", c.SubFold, "want Test, Val or Train")
	}
	return nil
}
