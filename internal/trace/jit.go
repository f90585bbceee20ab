package trace

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"
)

// JitFunc is a trace-compile-cache wrapper around a pure function. The
// first call per input signature traces the function to a jaxpr; later
// calls replay the cached jaxpr against the concrete inputs, reusing the
// backends' compiled kernels. Cached jaxprs own their captured constants
// until ClearCache, so replays never read freed buffers.
type JitFunc struct {
	f      func([]Value) []Value
	static map[int]bool
	cache  map[string]*Jaxpr
}

// Jit wraps f. staticArgnums name arguments that become trace-time
// constants: a new value at a static position triggers a re-trace.
func Jit(f func([]Value) []Value, staticArgnums ...int) *JitFunc {
	static := make(map[int]bool, len(staticArgnums))
	for _, i := range staticArgnums {
		static[i] = true
	}
	return &JitFunc{f: f, static: static, cache: make(map[string]*Jaxpr)}
}

// signature builds the cache key: per-dynamic-leaf shape and dtype, and
// identity for static arguments.
func (j *JitFunc) signature(args []Value) string {
	var sb strings.Builder
	for i, a := range args {
		if j.static[i] {
			if c, ok := a.(Concrete); ok {
				fmt.Fprintf(&sb, "s%p;", c.Arr)
			} else {
				fmt.Fprintf(&sb, "s%v;", a)
			}
			continue
		}
		fmt.Fprintf(&sb, "%s;", a.Aval())
	}
	return sb.String()
}

// CacheSize reports the number of traced signatures.
func (j *JitFunc) CacheSize() int { return len(j.cache) }

// ClearCache drops every cached jaxpr, releasing their captured
// constants.
func (j *JitFunc) ClearCache() { j.cache = make(map[string]*Jaxpr) }

// Call applies the jitted function.
func (j *JitFunc) Call(args ...Value) ([]Value, error) {
	key := j.signature(args)
	jx, hit := j.cache[key]
	if !hit {
		var dynAvals []Aval
		for i, a := range args {
			if !j.static[i] {
				dynAvals = append(dynAvals, a.Aval())
			}
		}
		var err error
		jx, err = Stage(func(dyn []Value) []Value {
			full := make([]Value, len(args))
			di := 0
			for i, a := range args {
				if j.static[i] {
					full[i] = a
				} else {
					full[i] = dyn[di]
					di++
				}
			}
			return j.f(full)
		}, dynAvals)
		if err != nil {
			return nil, err
		}
		j.cache[key] = jx
		klog.V(2).Infof("jit: traced signature %q (%d eqns)", key, len(jx.Eqns))
	}

	var dyn []Value
	for i, a := range args {
		if !j.static[i] {
			dyn = append(dyn, a)
		}
	}
	return EvalJaxpr(jx, dyn)
}
