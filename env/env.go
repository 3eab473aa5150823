// Package env resolves settings from cobra flags, the process environment
// and .env files, and builds the logger and telemetry for commands.
package env

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/telemetry"
	"github.com/spf13/cobra"
)

// Prefix is prepended to every environment variable this module reads.
const Prefix = "CLINE_"

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=value line, removing surrounding quotes.
func ProcessEnvLine(line string) EnvLine {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: line}
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "export ")
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

var referenceRe = regexp.MustCompile(`\$\{([^{}]*)\}`)

// interpolate expands ${NAME}, ${NAME:-default} and ${env:NAME} references.
// Unresolved references without a default are kept verbatim.
func interpolate(input string, vars map[string]string) string {
	return referenceRe.ReplaceAllStringFunc(input, func(ref string) string {
		name, def, _ := strings.Cut(ref[2:len(ref)-1], ":-")
		if name == "" {
			return ref
		}
		var val string
		if osName, ok := strings.CutPrefix(name, "env:"); ok {
			val = os.Getenv(osName)
		} else {
			val = vars[name]
		}
		switch {
		case val != "":
			return val
		case def != "":
			return def
		}
		return ref
	})
}

// ParseEnvBuffer parses KEY=value lines, skipping blanks and comments.
// References may point at keys defined anywhere in the buffer.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = interpolate(env.Val, vars)
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	for i := range envs {
		envs[i].Val = interpolate(envs[i].Val, vars)
	}
	return envs, nil
}

// LoadEnvFile exports the lines of filename into the process environment.
// Variables that are already set win.
func LoadEnvFile(filename string) error {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read env file %s", filename)
	}
	for _, e := range envs {
		if _, ok := os.LookupEnv(e.Key); ok {
			continue
		}
		if err := os.Setenv(e.Key, e.Val); err != nil {
			return errors.Wrapf(err, "set %s", e.Key)
		}
	}
	return nil
}

func mustQuote(val string) bool {
	return strings.Contains(val, `"`) || strings.Contains(val, `\n`)
}

// EncodeOSEnv encodes a variable as a KEY=value line readable by ParseEnvBuffer.
func EncodeOSEnv(key, val string) string {
	val = strings.ReplaceAll(val, "\n", `\n`)
	if mustQuote(val) {
		if strings.Contains(val, `"`) {
			val = `'` + val + `'`
		} else {
			val = `"` + val + `"`
		}
	}
	return key + "=" + val
}

// WriteEnvFile writes envs to fn, replacing the file.
func WriteEnvFile(fn string, envs []EnvLine) error {
	of, err := os.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer of.Close()
	for _, el := range envs {
		fmt.Fprintln(of, EncodeOSEnv(el.Key, el.Val))
	}
	return of.Close()
}

// UpsertEnvFile sets key in fn, keeping every other line.
func UpsertEnvFile(fn string, key, val string) error {
	envs, err := ParseEnvFile(fn)
	if err != nil {
		return err
	}
	found := false
	for i := range envs {
		if envs[i].Key == key {
			envs[i].Val = val
			found = true
		}
	}
	if !found {
		envs = append(envs, EnvLine{Key: key, Val: val})
	}
	return WriteEnvFile(fn, envs)
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"), logger.LevelInfo)
}

// NewLogger returns a console or JSON logger depending on --log-format
// (CLINE_LOG_FORMAT), at the level given by LogLevel.
//
// With --log-file (CLINE_LOG_FILE) entries are also appended to that file.
// JSON entries then go only to the file so stdout stays readable.
func NewLogger(cmd *cobra.Command) logger.Logger {
	level := LogLevel(cmd)
	jsonFormat := FlagOrEnv(cmd, "log-format", Prefix+"LOG_FORMAT", "console") == "json"
	fn := FlagOrEnv(cmd, "log-file", Prefix+"LOG_FILE", "")
	if fn == "" {
		if jsonFormat {
			return logger.NewJSONLogger(level)
		}
		return logger.NewConsoleLogger(level)
	}
	sink, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log := logger.NewConsoleLogger(level)
		log.Warn("cannot open log file %s: %s", fn, err)
		return log
	}
	if jsonFormat {
		return logger.NewJSONLoggerWithSink(sink, level)
	}
	log := logger.NewConsoleLogger(level)
	log.SetSink(sink, level)
	return log
}

// NewTelemetry returns a telemetry context, logger, shutdown function. The cobra flags it expects are:
//
// --no-telemetry (boolean): if set, telemetry will be disabled
//
// --otlp-url (string): the url of the otlp server, telemetry is off when empty
//
// --otlp-token (string): the shared secret for the otlp server
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (context.Context, logger.Logger, func(), error) {
	console := NewLogger(cmd)
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return ctx, console, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", Prefix+"OTLP_URL", "")
	if otlpURL == "" {
		return ctx, console, func() {}, nil
	}
	otlpToken := FlagOrEnv(cmd, "otlp-token", Prefix+"OTLP_TOKEN", "")

	telemetryCtx, log, shutdown, err := telemetry.New(ctx, serviceName, otlpToken, otlpURL, console)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating telemetry: %w", err)
	}
	return telemetryCtx, log, shutdown, nil
}
