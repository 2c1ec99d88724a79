package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ieee0824/livedecode-go/asrerr"
)

// EnvPrefix prefixes environment overrides of structured master files.
const EnvPrefix = "LIVEDECODE"

// Option configures Load.
type Option func(*loader)

// WithLogger sets the logger for option file fallbacks.
func WithLogger(l zerolog.Logger) Option {
	return func(ld *loader) { ld.log = l }
}

// WithBaseDir resolves relative resource and option file names against dir
// instead of the master file's directory.
func WithBaseDir(dir string) Option {
	return func(ld *loader) { ld.baseDir = dir }
}

type loader struct {
	log     zerolog.Logger
	baseDir string
}

// Load reads the master file at path and the option files it names, then
// validates the result. Option files that do not exist leave their
// subsystem at its defaults. A malformed or unknown option fails with
// ConfigInvalid.
func Load(path string, opts ...Option) (*Config, error) {
	ld := loader{log: zerolog.Nop()}
	for _, o := range opts {
		o(&ld)
	}
	cfg := Default()
	cfg.BaseDir = ld.baseDir
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Dir(path)
	}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		err = ld.loadStructured(cfg, path)
	default:
		err = ld.loadOptionFiles(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (ld *loader) loadOptionFiles(cfg *Config, path string) error {
	master := newFlagSet("master")
	cfg.registerMaster(master)
	if err := readOptionFile(path, master); err != nil {
		return asrerr.Wrap(asrerr.ConfigInvalid, "config", err).WithResource(path)
	}
	ld.log.Debug().Str("file", path).Msg("master config loaded")
	return ld.loadSections(cfg)
}

// loadSections reads the option file of every subsystem that names one.
func (ld *loader) loadSections(cfg *Config) error {
	for _, sec := range cfg.sections() {
		if sec.file == "" {
			continue
		}
		file := cfg.Resolve(sec.file)
		fs := newFlagSet(sec.name)
		sec.register(fs)
		err := readOptionFile(file, fs)
		if errors.Is(err, os.ErrNotExist) {
			ld.log.Info().Str("section", sec.name).Str("file", file).Msg("option file not found, using defaults")
			continue
		}
		if err != nil {
			return asrerr.Wrap(asrerr.ConfigInvalid, "config", err).WithResource(file)
		}
		ld.log.Debug().Str("section", sec.name).Str("file", file).Msg("option file loaded")
	}
	return nil
}

func (ld *loader) loadStructured(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return asrerr.Wrap(asrerr.ConfigInvalid, "config", err).WithResource(path)
	}

	known := make(map[string]bool)
	master := newFlagSet("master")
	cfg.registerMaster(master)
	if err := applyViper(v, master, "", known); err != nil {
		return asrerr.Wrap(asrerr.ConfigInvalid, "config", err).WithResource(path)
	}
	ld.log.Debug().Str("file", path).Msg("master config loaded")
	if err := ld.loadSections(cfg); err != nil {
		return err
	}

	// Inline sections override the option files.
	var errs []error
	for _, sec := range cfg.sections() {
		fs := newFlagSet(sec.name)
		sec.register(fs)
		errs = append(errs, applyViper(v, fs, sec.name, known))
	}
	for _, k := range v.AllKeys() {
		if !known[normalizeKey(k)] {
			errs = append(errs, fmt.Errorf("unknown option %q", k))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return asrerr.Wrap(asrerr.ConfigInvalid, "config", err).WithResource(path)
	}
	return nil
}

// applyViper sets every flag of fs that v has a value for. Keys are looked
// up under prefix, with dashes or underscores.
func applyViper(v *viper.Viper, fs *pflag.FlagSet, prefix string, known map[string]bool) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		if prefix != "" && !strings.HasPrefix(key, prefix+".") {
			key = prefix + "." + key
		}
		known[key] = true
		for _, k := range []string{key, strings.ReplaceAll(key, "-", "_")} {
			if !v.IsSet(k) {
				continue
			}
			if err := fs.Set(f.Name, v.GetString(k)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
			}
			return
		}
	})
	return errors.Join(errs...)
}

// newFlagSet returns a flag set that treats '_' and '-' in option names
// alike.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(normalizeKey(name))
	})
	return fs
}

func normalizeKey(name string) string { return strings.ReplaceAll(name, "_", "-") }

func readOptionFile(name string, fset *pflag.FlagSet) error {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("open option file: %w", err)
	}
	defer f.Close()
	return ParseOptions(f, fset)
}

// ParseOptions applies an option file of --key=value lines to fs. Text
// after '#' is a comment and blank lines are skipped.
func ParseOptions(r io.Reader, fs *pflag.FlagSet) error {
	var args []string
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return fmt.Errorf("line %d: expected --option=value, got %q", n, line)
		}
		args = append(args, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read option file: %w", err)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	return nil
}
