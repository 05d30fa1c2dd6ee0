// Package proxy turns the engine's text command interface into object-like
// remote calls: build a quoted shell invocation from a command name and
// arguments, execute it, and memoize command schemas in a bounded cache.
package proxy

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Chamoswor/virtualshell/cache"
	"github.com/Chamoswor/virtualshell/shell"
)

// Executor is the core contract the proxy needs: submit text, get a result.
type Executor interface {
	Execute(command string, timeout time.Duration) shell.ExecutionResult
}

// Proxy builds and executes shell invocations on behalf of a caller that
// thinks in commands and arguments rather than script text.
type Proxy struct {
	ex      Executor
	schemas *cache.LRU
	timeout time.Duration
}

// New creates a proxy over ex. schemas may be nil to disable memoization;
// timeout applies to every call the proxy makes.
func New(ex Executor, schemas *cache.LRU, timeout time.Duration) *Proxy {
	return &Proxy{ex: ex, schemas: schemas, timeout: timeout}
}

// Call invokes name with positional arguments, each passed as a quoted
// literal.
func (p *Proxy) Call(name string, args ...string) shell.ExecutionResult {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(shell.PSQuote(a))
	}
	return p.ex.Execute(b.String(), p.timeout)
}

// CallKV invokes name with named parameters (-Key 'value'), in sorted key
// order for stable command text.
func (p *Proxy) CallKV(name string, namedArgs map[string]string) shell.ExecutionResult {
	keys := make([]string, 0, len(namedArgs))
	for k := range namedArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(" -")
		b.WriteString(k)
		b.WriteByte(' ')
		b.WriteString(shell.PSQuote(namedArgs[k]))
	}
	return p.ex.Execute(b.String(), p.timeout)
}

// Schema returns the parameter metadata of a command as JSON, served from
// the cache when it has been fetched before.
func (p *Proxy) Schema(name string) (string, error) {
	if p.schemas != nil {
		if v, ok := p.schemas.Get(name); ok {
			return v, nil
		}
	}

	cmd := "Get-Command " + shell.PSQuote(name) +
		" | Select-Object -ExpandProperty Parameters | ConvertTo-Json -Depth 3"
	r := p.ex.Execute(cmd, p.timeout)
	if !r.Success {
		return "", errors.New(strings.TrimSpace(string(r.Stderr)))
	}

	schema := strings.TrimSpace(string(r.Stdout))
	if p.schemas != nil {
		p.schemas.Put(name, schema)
	}
	return schema, nil
}
