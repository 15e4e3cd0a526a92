package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/findsig/internal/infra/fsx"
	"github.com/John-Robertt/findsig/internal/infra/logx"
	"github.com/John-Robertt/findsig/internal/match"
	"github.com/John-Robertt/findsig/internal/pattern"
	"github.com/John-Robertt/findsig/internal/report"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeRootInvalid 表示扫描根不存在或不是目录。
	ErrCodeRootInvalid = "root_invalid"
	// ErrCodePatternInvalid 表示特征文件不存在、不是普通文件、为空或过大。
	ErrCodePatternInvalid = "pattern_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名。
	FileName = "findsig.yaml"

	DefaultWorkers   = 4
	DefaultChunkSize = match.DefaultChunkSize
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
)

// CLIArgs 是 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这样 --workers 等参数才能覆盖配置文件中的同名字段。
type CLIArgs struct {
	Root        string
	PatternPath string

	// ConfigPath 非空时必须存在；为空时尝试 <cwd>/findsig.yaml（可选）。
	ConfigPath string

	Workers    int
	WorkersSet bool

	ChunkSize    int
	ChunkSizeSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 findsig.yaml 的解析结构。
type FileConfig struct {
	Workers        int          `yaml:"workers"`
	ChunkSize      int          `yaml:"chunk_size"`
	MaxPatternSize int64        `yaml:"max_pattern_size"`
	LogLevel       string       `yaml:"log_level"`
	LogFormat      string       `yaml:"log_format"`
	ExcludeDirs    []string     `yaml:"exclude_dirs"`
	Report         ReportConfig `yaml:"report"`
}

type ReportConfig struct {
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// EffectiveConfig 是合并并规范化后的最终配置，实现层直接消费。
type EffectiveConfig struct {
	Root        string
	PatternPath string

	// ConfigFile 是实际读取的配置文件；没有读取任何文件时为空。
	ConfigFile string

	Workers        int
	ChunkSize      int
	MaxPatternSize int64
	ExcludeDirs    []string

	LogLevel  string
	LogFormat string

	NATSURL     string
	NATSSubject string
}

// Error 是配置与预检阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	case ErrCodeRootInvalid:
		return fmt.Sprintf("%s：扫描目录 %q 不可用：%v", e.Code, e.Path, e.Err)
	case ErrCodePatternInvalid:
		return fmt.Sprintf("%s：特征文件 %q 不可用：%v", e.Code, e.Path, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/findsig.yaml（可选）
//
// 覆盖优先级：CLI > 配置文件 > 内置默认。配置中 0/缺省表示默认，负数非法。
// 本函数不触碰 root 与特征文件；它们由 Preflight 校验。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}
	if !exists {
		cfgPath = ""
	}

	return merge(cli, fc, cfgPath)
}

func merge(cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	workers, err := pickInt("workers", cli.Workers, cli.WorkersSet, fc.Workers, DefaultWorkers)
	if err != nil {
		return EffectiveConfig{}, invalid("%v", err)
	}
	chunk, err := pickInt("chunk_size", cli.ChunkSize, cli.ChunkSizeSet, fc.ChunkSize, DefaultChunkSize)
	if err != nil {
		return EffectiveConfig{}, invalid("%v", err)
	}

	maxPattern := fc.MaxPatternSize
	switch {
	case maxPattern < 0:
		return EffectiveConfig{}, invalid("max_pattern_size 不能为负数：%d", maxPattern)
	case maxPattern == 0:
		maxPattern = pattern.DefaultMaxSize
	}

	level := DefaultLogLevel
	if cli.LogLevelSet {
		level = cli.LogLevel
	} else if strings.TrimSpace(fc.LogLevel) != "" {
		level = fc.LogLevel
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if !logx.ValidLevel(level) || level == "" {
		return EffectiveConfig{}, invalid("log_level 只能是 debug|info|warn|error，实际是 %q", level)
	}

	format := strings.ToLower(strings.TrimSpace(fc.LogFormat))
	switch format {
	case "":
		format = DefaultLogFormat
	case "auto", "pretty", "json":
	default:
		return EffectiveConfig{}, invalid("log_format 只能是 auto|pretty|json，实际是 %q", fc.LogFormat)
	}

	subject := strings.TrimSpace(fc.Report.NATSSubject)
	if subject == "" {
		subject = report.DefaultSubject
	}

	return EffectiveConfig{
		Root:           cleanPath(cli.Root),
		PatternPath:    cleanPath(cli.PatternPath),
		ConfigFile:     cfgPath,
		Workers:        workers,
		ChunkSize:      chunk,
		MaxPatternSize: maxPattern,
		ExcludeDirs:    append([]string(nil), fc.ExcludeDirs...),
		LogLevel:       level,
		LogFormat:      format,
		NATSURL:        strings.TrimSpace(fc.Report.NATSURL),
		NATSSubject:    subject,
	}, nil
}

// pickInt 按 CLI > 配置 > 默认取值。CLI 显式给出的值必须 >= 1。
func pickInt(name string, cliV int, cliSet bool, fileV, def int) (int, error) {
	if cliSet {
		if cliV < 1 {
			return 0, fmt.Errorf("--%s 必须 >= 1，实际是 %d", strings.ReplaceAll(name, "_", "-"), cliV)
		}
		return cliV, nil
	}
	switch {
	case fileV < 0:
		return 0, fmt.Errorf("%s 不能为负数：%d", name, fileV)
	case fileV == 0:
		return def, nil
	default:
		return fileV, nil
	}
}

// Preflight 在任何扫描开始之前校验 root 与特征文件。
// 失败时不做任何工作，直接返回带 error_code 的 *Error。
func Preflight(eff EffectiveConfig) error {
	if strings.TrimSpace(eff.Root) == "" {
		return &Error{Code: ErrCodeRootInvalid, Path: eff.Root, Err: errors.New("路径为空")}
	}
	if err := fsx.CheckDir(eff.Root); err != nil {
		return &Error{Code: ErrCodeRootInvalid, Path: eff.Root, Err: err}
	}
	if strings.TrimSpace(eff.PatternPath) == "" {
		return &Error{Code: ErrCodePatternInvalid, Path: eff.PatternPath, Err: errors.New("路径为空")}
	}
	if err := fsx.CheckRegularFile(eff.PatternPath); err != nil {
		return &Error{Code: ErrCodePatternInvalid, Path: eff.PatternPath, Err: err}
	}
	return nil
}

// cleanPath 保持用户给出的相对/绝对形式，只做 Clean；空串保持为空。
func cleanPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	return filepath.Clean(p)
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。未知字段视为错误。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		// 空文件：视为全部默认。
		if errors.Is(err, io.EOF) {
			return FileConfig{}, true, nil
		}
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
