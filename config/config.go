package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/darianmavgo/rwmigrate/assets"
	"github.com/darianmavgo/rwmigrate/dialect"
	"github.com/darianmavgo/rwmigrate/schema"
	"github.com/darianmavgo/rwmigrate/sources/tabular"
)

// Config represents the application configuration.
type Config struct {
	BatchSize    int      `hcl:"batch_size,optional" yaml:"batch_size"`
	Workers      int      `hcl:"workers,optional" yaml:"workers"`
	Dialect      string   `hcl:"dialect,optional" yaml:"dialect"`
	Table        string   `hcl:"table,optional" yaml:"table"`
	Identity     string   `hcl:"identity,optional" yaml:"identity"`
	SampleSize   int      `hcl:"sample_size,optional" yaml:"sample_size"`
	Seed         int64    `hcl:"seed,optional" yaml:"seed"`
	Charset      string   `hcl:"charset,optional" yaml:"charset"`
	ScalarFields []string `hcl:"scalar_fields,optional" yaml:"scalar_fields"`
	HTMLFields   []string `hcl:"html_fields,optional" yaml:"html_fields"`
	ContentHash  bool     `hcl:"content_hash,optional" yaml:"content_hash"`
	Provenance   string   `hcl:"provenance,optional" yaml:"provenance"`
	Dedupe       bool     `hcl:"dedupe,optional" yaml:"dedupe"` // drop repeated records across merged inputs
	StallTimeout string   `hcl:"stall_timeout,optional" yaml:"stall_timeout"` // e.g. "5m", empty disables

	Images  *ImagesConfig  `hcl:"images,block" yaml:"images"`
	Output  *OutputConfig  `hcl:"output,block" yaml:"output"`
	Native  *NativeConfig  `hcl:"native,block" yaml:"native"`
	Logging *LoggingConfig `hcl:"logging,block" yaml:"logging"`
}

// ImagesConfig locates cover images and controls how they are stored.
type ImagesConfig struct {
	Dir          string `hcl:"dir,optional" yaml:"dir"`
	Zip          string `hcl:"zip,optional" yaml:"zip"`
	KeyField     string `hcl:"key_field,optional" yaml:"key_field"`
	Mode         string `hcl:"mode,optional" yaml:"mode"`
	MaxDimension int    `hcl:"max_dimension,optional" yaml:"max_dimension"`
	Format       string `hcl:"format,optional" yaml:"format"`
	Quality      int    `hcl:"quality,optional" yaml:"quality"`
	OutputDir    string `hcl:"output_dir,optional" yaml:"output_dir"`
	Naming       string `hcl:"naming,optional" yaml:"naming"`
}

// OutputConfig names the run's destinations. SQL and Database may both be
// set.
type OutputConfig struct {
	SQL      string `hcl:"sql,optional" yaml:"sql"`
	Database string `hcl:"database,optional" yaml:"database"` // sqlite path or driver DSN
	Report   string `hcl:"report,optional" yaml:"report"`
}

// NativeConfig describes the Readerware backup script layout.
type NativeConfig struct {
	Table        string              `hcl:"table,optional" yaml:"table"`
	Lookups      map[string]string   `hcl:"lookups,optional" yaml:"lookups"`
	Merge        map[string][]string `hcl:"merge,optional" yaml:"merge"`
	ImageColumns []string            `hcl:"image_columns,optional" yaml:"image_columns"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `hcl:"level,optional" yaml:"level"`
	Format string `hcl:"format,optional" yaml:"format"`
}

// DefaultConfig returns the default configuration. Readerware's free-text
// fields carry ';' in prose and in HTML entities, so they are scalar.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:    1000,
		Workers:      4,
		Dialect:      dialect.SQLite,
		Table:        "books",
		Identity:     "id",
		ScalarFields: []string{"PRODUCT_INFO", "MY_COMMENTS"},
		Images:       defaultImages(),
		Output:       &OutputConfig{},
		Native:       defaultNative(),
		Logging:      defaultLogging(),
	}
}

func defaultImages() *ImagesConfig {
	return &ImagesConfig{
		KeyField:     "ROWKEY",
		MaxDimension: 512,
		Format:       assets.FormatJPEG,
		Quality:      85,
		Naming:       assets.NameByID,
	}
}

// defaultNative matches a stock Readerware 3 book database.
func defaultNative() *NativeConfig {
	return &NativeConfig{
		Table: "READERWARE",
		Lookups: map[string]string{
			"AUTHOR":           "CONTRIBUTOR",
			"AUTHOR2":          "CONTRIBUTOR",
			"AUTHOR3":          "CONTRIBUTOR",
			"AUTHOR4":          "CONTRIBUTOR",
			"PUBLISHER":        "PUBLISHER_LIST",
			"PUB_PLACE":        "PUBLICATION_PLACE_LIST",
			"CONTENT_LANGUAGE": "LANGUAGE_LIST",
			"CATEGORY1":        "CATEGORY_LIST",
			"CATEGORY2":        "CATEGORY_LIST",
			"CATEGORY3":        "CATEGORY_LIST",
			"FORMAT":           "FORMAT_LIST",
			"READING_LEVEL":    "READING_LEVEL_LIST",
		},
		Merge: map[string][]string{
			"AUTHORS":    {"AUTHOR", "AUTHOR2", "AUTHOR3", "AUTHOR4"},
			"CATEGORIES": {"CATEGORY1", "CATEGORY2", "CATEGORY3"},
		},
	}
}

func defaultLogging() *LoggingConfig {
	return &LoggingConfig{Level: "info", Format: "text"}
}

// withDefaults fills blocks and values a config file left out.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.Dialect == "" {
		c.Dialect = def.Dialect
	}
	if c.Table == "" {
		c.Table = def.Table
	}
	if c.Identity == "" {
		c.Identity = def.Identity
	}
	if c.ScalarFields == nil {
		c.ScalarFields = def.ScalarFields
	}

	if c.Images == nil {
		c.Images = def.Images
	}
	img := c.Images
	if img.KeyField == "" {
		img.KeyField = def.Images.KeyField
	}
	if img.MaxDimension == 0 {
		img.MaxDimension = def.Images.MaxDimension
	}
	if img.Format == "" {
		img.Format = def.Images.Format
	}
	if img.Quality == 0 {
		img.Quality = def.Images.Quality
	}
	if img.Naming == "" {
		img.Naming = def.Images.Naming
	}

	if c.Output == nil {
		c.Output = def.Output
	}
	if c.Native == nil {
		c.Native = def.Native
	}
	if c.Native.Table == "" {
		c.Native.Table = def.Native.Table
	}
	// An explicitly empty map turns the defaults off.
	if c.Native.Lookups == nil {
		c.Native.Lookups = def.Native.Lookups
	}
	if c.Native.Merge == nil {
		c.Native.Merge = def.Native.Merge
	}
	if c.Logging == nil {
		c.Logging = def.Logging
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	return c
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.SampleSize < 0 {
		return fmt.Errorf("sample_size must not be negative, got %d", c.SampleSize)
	}
	if _, err := c.StallDuration(); err != nil {
		return err
	}
	if _, err := dialect.Lookup(c.Dialect); err != nil {
		return err
	}
	if _, err := tabular.LookupCharset(c.Charset); err != nil {
		return err
	}
	img := c.Images
	if !slices.Contains([]string{schema.AssetNone, schema.AssetEmbed, schema.AssetExternal}, img.Mode) {
		return fmt.Errorf("images.mode must be %q or %q, got %q", schema.AssetEmbed, schema.AssetExternal, img.Mode)
	}
	if img.Format != assets.FormatJPEG && img.Format != assets.FormatPNG {
		return fmt.Errorf("images.format must be %q or %q, got %q", assets.FormatJPEG, assets.FormatPNG, img.Format)
	}
	if img.Naming != assets.NameByID && img.Naming != assets.NameByHash {
		return fmt.Errorf("images.naming must be %q or %q, got %q", assets.NameByID, assets.NameByHash, img.Naming)
	}
	if img.Quality < 1 || img.Quality > 100 {
		return fmt.Errorf("images.quality must be between 1 and 100, got %d", img.Quality)
	}
	if img.MaxDimension < 0 {
		return fmt.Errorf("images.max_dimension must not be negative, got %d", img.MaxDimension)
	}
	if img.Mode == schema.AssetExternal && img.OutputDir == "" {
		return fmt.Errorf("images.output_dir is required when images.mode is %q", schema.AssetExternal)
	}
	if img.Dir != "" && img.Zip != "" {
		return fmt.Errorf("images.dir and images.zip are mutually exclusive")
	}
	return nil
}

// StallDuration parses StallTimeout. Empty means no timeout.
func (c *Config) StallDuration() (time.Duration, error) {
	if c.StallTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StallTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("stall_timeout must be a duration like \"5m\", got %q", c.StallTimeout)
	}
	return d, nil
}

// Load reads the configuration from the given HCL or YAML file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Decode into empty blocks so maps replace the defaults instead of
		// merging with them.
		cfg = &Config{}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(content, path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse config file: %s", diags.Error())
		}
		diags = gohcl.DecodeBody(file.Body, nil, cfg)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode config: %s", diags.Error())
		}
	}

	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Export writes the configuration to the specified file in HCL format.
func Export(path string, cfg *Config) error {
	cfg.withDefaults()
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	root.SetAttributeValue("batch_size", cty.NumberIntVal(int64(cfg.BatchSize)))
	root.SetAttributeValue("workers", cty.NumberIntVal(int64(cfg.Workers)))
	root.SetAttributeValue("dialect", cty.StringVal(cfg.Dialect))
	root.SetAttributeValue("table", cty.StringVal(cfg.Table))
	root.SetAttributeValue("identity", cty.StringVal(cfg.Identity))
	root.SetAttributeValue("sample_size", cty.NumberIntVal(int64(cfg.SampleSize)))
	root.SetAttributeValue("seed", cty.NumberIntVal(cfg.Seed))
	root.SetAttributeValue("charset", cty.StringVal(cfg.Charset))
	root.SetAttributeValue("scalar_fields", stringList(cfg.ScalarFields))
	root.SetAttributeValue("html_fields", stringList(cfg.HTMLFields))
	root.SetAttributeValue("content_hash", cty.BoolVal(cfg.ContentHash))
	root.SetAttributeValue("provenance", cty.StringVal(cfg.Provenance))
	root.SetAttributeValue("dedupe", cty.BoolVal(cfg.Dedupe))
	root.SetAttributeValue("stall_timeout", cty.StringVal(cfg.StallTimeout))

	root.AppendNewline()
	img := root.AppendNewBlock("images", nil).Body()
	img.SetAttributeValue("dir", cty.StringVal(cfg.Images.Dir))
	img.SetAttributeValue("zip", cty.StringVal(cfg.Images.Zip))
	img.SetAttributeValue("key_field", cty.StringVal(cfg.Images.KeyField))
	img.SetAttributeValue("mode", cty.StringVal(cfg.Images.Mode))
	img.SetAttributeValue("max_dimension", cty.NumberIntVal(int64(cfg.Images.MaxDimension)))
	img.SetAttributeValue("format", cty.StringVal(cfg.Images.Format))
	img.SetAttributeValue("quality", cty.NumberIntVal(int64(cfg.Images.Quality)))
	img.SetAttributeValue("output_dir", cty.StringVal(cfg.Images.OutputDir))
	img.SetAttributeValue("naming", cty.StringVal(cfg.Images.Naming))

	root.AppendNewline()
	out := root.AppendNewBlock("output", nil).Body()
	out.SetAttributeValue("sql", cty.StringVal(cfg.Output.SQL))
	out.SetAttributeValue("database", cty.StringVal(cfg.Output.Database))
	out.SetAttributeValue("report", cty.StringVal(cfg.Output.Report))

	root.AppendNewline()
	native := root.AppendNewBlock("native", nil).Body()
	native.SetAttributeValue("table", cty.StringVal(cfg.Native.Table))
	native.SetAttributeValue("lookups", stringMap(cfg.Native.Lookups))
	native.SetAttributeValue("merge", listMap(cfg.Native.Merge))
	native.SetAttributeValue("image_columns", stringList(cfg.Native.ImageColumns))

	root.AppendNewline()
	logging := root.AppendNewBlock("logging", nil).Body()
	logging.SetAttributeValue("level", cty.StringVal(cfg.Logging.Level))
	logging.SetAttributeValue("format", cty.StringVal(cfg.Logging.Format))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	_, err = file.Write(f.Bytes())
	if err != nil {
		return fmt.Errorf("failed to write config to file: %w", err)
	}

	return nil
}

func stringList(values []string) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(values))
	for i, v := range values {
		vals[i] = cty.StringVal(v)
	}
	return cty.ListVal(vals)
}

func stringMap(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.MapValEmpty(cty.String)
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.MapVal(vals)
}

func listMap(m map[string][]string) cty.Value {
	if len(m) == 0 {
		return cty.MapValEmpty(cty.List(cty.String))
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = stringList(v)
	}
	return cty.MapVal(vals)
}
