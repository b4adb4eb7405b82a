package program

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// fileMapLimit caps the number of entries the file_map variable emits.
const fileMapLimit = 50

// envVariables is the order variables appear in the <env> block when
// "all" is selected.
var envVariables = []string{
	"working_directory",
	"platform",
	"date",
	"hostname",
	"username",
	"file_map",
}

// BuildEnvInfo renders the <env> block appended to the system prompt, or
// an empty string when no variables are selected.
func BuildEnvInfo(cfg EnvInfoConfig) string {
	selected := selectEnvVariables(cfg.Variables)
	if len(selected) == 0 && len(cfg.Custom) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<env>\n")
	for _, name := range selected {
		value := envValue(name)
		if value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", name, value)
	}

	customKeys := make([]string, 0, len(cfg.Custom))
	for k := range cfg.Custom {
		customKeys = append(customKeys, k)
	}
	sort.Strings(customKeys)
	for _, k := range customKeys {
		fmt.Fprintf(&b, "%s: %s\n", k, cfg.Custom[k])
	}
	b.WriteString("</env>")
	return b.String()
}

func selectEnvVariables(vars StringList) []string {
	if len(vars) == 1 && vars[0] == "all" {
		return envVariables
	}
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if contains(envVariables, v) {
			out = append(out, v)
		} else {
			slog.Warn("ignoring unknown env_info variable", "variable", v)
		}
	}
	return out
}

func envValue(name string) string {
	switch name {
	case "working_directory":
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		return wd
	case "platform":
		return runtime.GOOS
	case "date":
		return time.Now().Format("2006-01-02")
	case "hostname":
		host, err := os.Hostname()
		if err != nil {
			return ""
		}
		return host
	case "username":
		u, err := user.Current()
		if err != nil {
			return ""
		}
		return u.Username
	case "file_map":
		return buildFileMap()
	}
	return ""
}

// buildFileMap lists files under the working directory, one per line,
// capped at fileMapLimit entries. Hidden directories are skipped.
func buildFileMap() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	var files []string
	truncated := false
	filepath.WalkDir(wd, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != wd && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if len(files) >= fileMapLimit {
			truncated = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(wd, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, rel)
		return nil
	})
	if len(files) == 0 {
		return ""
	}
	out := "\n  " + strings.Join(files, "\n  ")
	if truncated {
		out += fmt.Sprintf("\n  ... (truncated at %d files)", fileMapLimit)
	}
	return out
}

// BuildPreloadContent reads the preload files into a <preload> block.
// Missing files are logged and skipped rather than failing the start.
func BuildPreloadContent(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	var b strings.Builder
	wrote := false
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping preload file", "path", path, "error", err)
			continue
		}
		if !wrote {
			b.WriteString("<preload>\n")
			wrote = true
		}
		fmt.Fprintf(&b, "<file path=%q>\n%s\n</file>\n", path, strings.TrimRight(string(data), "\n"))
	}
	if !wrote {
		return ""
	}
	b.WriteString("</preload>")
	return b.String()
}
