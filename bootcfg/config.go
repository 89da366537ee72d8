// Package bootcfg loads the simulator's boot-time configuration: the
// compile-time constants spec.md section 6 lists for the buffer cache
// and physical page allocator (NBUF, NBUCKET, BSIZE, NCPU, PGSIZE,
// PHYSTOP), plus the data directory diskfile uses.
//
// Loading follows calvinalkan-agent-task's LoadConfig layering:
// defaults, then an optional JSONC file (via hujson, so the file can
// carry comments), then CLI flags (via pflag) as the final override.
package bootcfg

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"rvkernel/bio"
	"rvkernel/kalloc"
)

// Config is the simulator's full boot configuration.
type Config struct {
	NBUF    int    `json:"nbuf,omitempty"`
	NBUCKET int    `json:"nbucket,omitempty"`
	BSIZE   int    `json:"bsize,omitempty"`
	NCPU    int    `json:"ncpu,omitempty"`
	PGSIZE  int    `json:"pgsize,omitempty"`
	PHYSTOP int    `json:"phystop,omitempty"`
	DataDir string `json:"data_dir,omitempty"` //nolint:tagliatelle
}

// Default returns the built-in defaults, assembled from bio's and
// kalloc's own DefaultConfig so the two subsystems never drift apart
// from bootcfg's view of them.
func Default() Config {
	bc := bio.DefaultConfig()
	kc := kalloc.DefaultConfig()
	return Config{
		NBUF:    bc.NBUF,
		NBUCKET: bc.NBUCKET,
		BSIZE:   bc.BSIZE,
		NCPU:    kc.NCPU,
		PGSIZE:  kc.PGSIZE,
		PHYSTOP: kc.PHYSTOP,
		DataDir: "./disk",
	}
}

// BioConfig extracts the bio.Config fields this boot configuration
// carries.
func (c Config) BioConfig() bio.Config {
	return bio.Config{NBUF: c.NBUF, NBUCKET: c.NBUCKET, BSIZE: c.BSIZE}
}

// KallocConfig extracts the kalloc.Config fields this boot
// configuration carries.
func (c Config) KallocConfig() kalloc.Config {
	return kalloc.Config{NCPU: c.NCPU, PGSIZE: c.PGSIZE, PHYSTOP: c.PHYSTOP}
}

func merge(base, overlay Config) Config {
	if overlay.NBUF != 0 {
		base.NBUF = overlay.NBUF
	}
	if overlay.NBUCKET != 0 {
		base.NBUCKET = overlay.NBUCKET
	}
	if overlay.BSIZE != 0 {
		base.BSIZE = overlay.BSIZE
	}
	if overlay.NCPU != 0 {
		base.NCPU = overlay.NCPU
	}
	if overlay.PGSIZE != 0 {
		base.PGSIZE = overlay.PGSIZE
	}
	if overlay.PHYSTOP != 0 {
		base.PHYSTOP = overlay.PHYSTOP
	}
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	return base
}

// LoadFile reads a JSONC configuration file (comments and trailing
// commas allowed, standardized via hujson before json.Unmarshal) and
// merges it over Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("bootcfg: reading %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("bootcfg: %s is not valid JSONC: %w", path, err)
	}

	var overlay Config
	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("bootcfg: parsing %s: %w", path, err)
	}

	return merge(cfg, overlay), nil
}

// ParseFlags layers command-line overrides over cfg, using the same
// flag set shape as calvinalkan-agent-task's Run: a ContinueOnError
// FlagSet whose Parse error the caller reports itself.
func ParseFlags(cfg Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("rvkernel", flag.ContinueOnError)

	nbuf := fs.Int("nbuf", cfg.NBUF, "buffer cache size, in blocks")
	nbucket := fs.Int("nbucket", cfg.NBUCKET, "buffer cache hash bucket count")
	bsize := fs.Int("bsize", cfg.BSIZE, "block size, in bytes")
	ncpu := fs.Int("ncpu", cfg.NCPU, "simulated hart count")
	pgsize := fs.Int("pgsize", cfg.PGSIZE, "page size, in bytes")
	phystop := fs.Int("phystop", cfg.PHYSTOP, "simulated physical memory size, in bytes")
	dataDir := fs.String("data-dir", cfg.DataDir, "directory holding simulated device image files")
	config := fs.StringP("config", "c", "", "load a JSONC config file before applying these flags")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("bootcfg: %w", err)
	}

	base := cfg
	if *config != "" {
		fileCfg, err := LoadFile(*config)
		if err != nil {
			return Config{}, err
		}
		base = fileCfg
	}

	overlay := Config{}
	if fs.Changed("nbuf") {
		overlay.NBUF = *nbuf
	}
	if fs.Changed("nbucket") {
		overlay.NBUCKET = *nbucket
	}
	if fs.Changed("bsize") {
		overlay.BSIZE = *bsize
	}
	if fs.Changed("ncpu") {
		overlay.NCPU = *ncpu
	}
	if fs.Changed("pgsize") {
		overlay.PGSIZE = *pgsize
	}
	if fs.Changed("phystop") {
		overlay.PHYSTOP = *phystop
	}
	if fs.Changed("data-dir") {
		overlay.DataDir = *dataDir
	}

	return merge(base, overlay), nil
}

// Validate reports whether cfg's fields are in range. It does not
// replace bio.New/kalloc.New's own panic-on-construction checks, which
// remain the authoritative guard; this lets a boot sequence reject a
// bad config with an error before any subsystem is constructed.
func (c Config) Validate() error {
	switch {
	case c.NBUF <= 0 || c.NBUCKET <= 0 || c.BSIZE <= 0:
		return fmt.Errorf("bootcfg: invalid buffer cache configuration %+v", c.BioConfig())
	case c.NCPU <= 0 || c.PGSIZE <= 0 || c.PHYSTOP <= 0:
		return fmt.Errorf("bootcfg: invalid allocator configuration %+v", c.KallocConfig())
	case c.PHYSTOP%c.PGSIZE != 0:
		return fmt.Errorf("bootcfg: phystop %d not a multiple of pgsize %d", c.PHYSTOP, c.PGSIZE)
	case c.DataDir == "":
		return fmt.Errorf("bootcfg: data_dir must not be empty")
	}
	return nil
}
