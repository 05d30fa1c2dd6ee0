package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Script invocation prefixes: dot-sourcing keeps the script's scope in the
// session, the call operator does not.
const (
	dotSourcePrefix = ". "
	callPrefix      = "& "
)

// ExecuteScript runs a script file with positional arguments. Arguments are
// passed through an array and splatting, which preserves exact argument
// boundaries regardless of content.
func (s *Shell) ExecuteScript(scriptPath string, args []string, timeout time.Duration, dotSource bool) ExecutionResult {
	cmd, err := buildScriptCommand(scriptPath, args, dotSource)
	if err != nil {
		return failedResult(ExitFailed, err.Error())
	}
	return s.Execute(cmd, timeout)
}

// SubmitScript is the asynchronous form of ExecuteScript. A missing script
// fails fast with a ready Future.
func (s *Shell) SubmitScript(scriptPath string, args []string, timeout time.Duration, dotSource bool, cb func(ExecutionResult)) *Future {
	cmd, err := buildScriptCommand(scriptPath, args, dotSource)
	if err != nil {
		return readyFuture(failedResult(ExitFailed, err.Error()))
	}
	return s.Submit(cmd, timeout, cb)
}

// ExecuteScriptKV runs a script file with named parameters passed through a
// hashtable and splatting.
func (s *Shell) ExecuteScriptKV(scriptPath string, namedArgs map[string]string, timeout time.Duration, dotSource bool) ExecutionResult {
	abs, err := resolveScript(scriptPath)
	if err != nil {
		return failedResult(ExitFailed, err.Error())
	}

	// Deterministic parameter order keeps the generated command stable.
	keys := make([]string, 0, len(namedArgs))
	for k := range namedArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var m strings.Builder
	m.WriteString("@{")
	for i, k := range keys {
		if i > 0 {
			m.WriteString("; ")
		}
		m.WriteString(k)
		m.WriteByte('=')
		m.WriteString(PSQuote(namedArgs[k]))
	}
	m.WriteString("}")

	prefix := callPrefix
	if dotSource {
		prefix = dotSourcePrefix
	}
	cmd := "$__params__ = " + m.String() + ";\n" + prefix + PSQuote(abs) + " @__params__"
	return s.Execute(cmd, timeout)
}

func buildScriptCommand(scriptPath string, args []string, dotSource bool) (string, error) {
	abs, err := resolveScript(scriptPath)
	if err != nil {
		return "", err
	}

	var arr strings.Builder
	arr.WriteString("@(")
	for i, a := range args {
		if i > 0 {
			arr.WriteString(", ")
		}
		arr.WriteString(PSQuote(a))
	}
	arr.WriteString(")")

	prefix := callPrefix
	if dotSource {
		prefix = dotSourcePrefix
	}
	return "$__args__ = " + arr.String() + ";\n" + prefix + PSQuote(abs) + " @__args__", nil
}

func resolveScript(scriptPath string) (string, error) {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", fmt.Errorf("resolving script path %q: %w", scriptPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("could not open script file: %s", scriptPath)
	}
	return abs, nil
}
