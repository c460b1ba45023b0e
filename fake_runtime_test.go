// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/petermattis/goid"
)

// fakeOpaque stands for a Julia value the host cannot represent directly.
type fakeOpaque string

// fakeVar is a global held by fakeRuntime. Arrays keep Julia dims
// ([n] or [rows, cols]) and column-major data.
type fakeVar struct {
	elem  string // Julia element type name, "Nothing" or "Tuple"
	dims  []int  // nil for scalars
	data  []any  // int64, float64, bool, string or Char
	tuple []int
}

var errForeignThread = errors.New("julia runtime called from a foreign thread")

// fakeRuntime is a scripted Runtime that models Julia globals, the JSON.json
// layout of arrays and the helper definitions the engine installs.
type fakeRuntime struct {
	mu            sync.Mutex
	booted        bool
	bootGoid      int64
	helper        bool
	noNative      bool // Never return *Array, forcing the JSON fallback
	globals       map[string]*fakeVar
	codes         []string
	bootCount     int
	shutdownCount int

	bootFunc     func(opts RuntimeOptions) error                       // Custom Boot behavior (if set)
	evalFunc     func(code string) (result any, handled bool, err error) // Custom EvalString behavior (if handled)
	shutdownFunc func() error                                          // Custom Shutdown behavior (if set)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{globals: make(map[string]*fakeVar)}
}

// fakeRuntimeFactory returns a RuntimeFactory producing fresh fakes.
func fakeRuntimeFactory() RuntimeFactory {
	return func() (Runtime, error) {
		return newFakeRuntime(), nil
	}
}

func (f *fakeRuntime) Boot(opts RuntimeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootCount++
	if f.bootFunc != nil {
		if err := f.bootFunc(opts); err != nil {
			return err
		}
	}
	f.booted = true
	f.bootGoid = goid.Get()
	return nil
}

func (f *fakeRuntime) Booted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.booted
}

func (f *fakeRuntime) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownCount++
	f.booted = false
	if f.shutdownFunc != nil {
		return f.shutdownFunc()
	}
	return nil
}

func (f *fakeRuntime) checkThread() error {
	if !f.booted {
		return errors.New("julia runtime is not booted")
	}
	if goid.Get() != f.bootGoid {
		return errForeignThread
	}
	return nil
}

// executed returns a copy of every code string and invocation seen so far.
func (f *fakeRuntime) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.codes...)
}

func (f *fakeRuntime) global(name string) *fakeVar {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.globals[name]
}

func (f *fakeRuntime) EvalString(code string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkThread(); err != nil {
		return nil, err
	}
	f.codes = append(f.codes, code)
	if f.evalFunc != nil {
		if result, handled, err := f.evalFunc(code); handled {
			return result, err
		}
	}
	return f.eval(code), nil
}

func (f *fakeRuntime) Invoke(function string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkThread(); err != nil {
		return nil, err
	}
	f.codes = append(f.codes, "invoke:"+function)
	if function != putGlobalFunction || !f.helper {
		return &JuliaException{Message: "UndefVarError: `" + function + "` not defined"}, nil
	}
	if len(args) != 2 {
		return &JuliaException{Message: "MethodError: no method matching " + function}, nil
	}
	name, _ := args[0].(string)
	array, ok := args[1].(*Array)
	if !ok || !isFakeIdentifier(name) {
		return &JuliaException{Message: "MethodError: no method matching " + function}, nil
	}
	f.globals[name] = fakeVarFromArray(array)
	return nil, nil
}

func (f *fakeRuntime) eval(code string) any {
	body, sentinel := strings.CutSuffix(code, successSentinel)
	if !balanced(body) {
		return nil
	}
	done := func() any {
		if sentinel {
			return true
		}
		return nil
	}

	switch {
	case body == bootstrapCommand, body == baselineCommand, body == jsonHelperCommand,
		strings.Contains(body, "redirect_stdout("), strings.HasPrefix(body, "flush("):
		return done()
	case body == putGlobalHelperCommand:
		f.helper = true
		return done()
	case body == clearCommand:
		f.globals = make(map[string]*fakeVar)
		f.helper = false
		return done()
	case strings.HasPrefix(body, "__ans__=") && strings.HasSuffix(body, ";\n__ans__"):
		v := f.value(strings.TrimSuffix(strings.TrimPrefix(body, "__ans__="), ";\n__ans__"))
		if v == nil {
			return nil
		}
		f.globals["__ans__"] = v
		return v.native(f.noNative)
	case strings.HasPrefix(body, "JSON.json(") && strings.HasSuffix(body, ")"):
		v := f.value(body[len("JSON.json(") : len(body)-1])
		if v == nil {
			return nil
		}
		return v.json()
	}

	if name, rhs, ok := strings.Cut(body, " = "); ok && isFakeIdentifier(name) {
		v, err := parseFakeLiteral(rhs)
		if err != nil {
			return nil
		}
		f.globals[name] = v
	}
	return done()
}

// value evaluates a variable name, size(name) or a literal.
func (f *fakeRuntime) value(expr string) *fakeVar {
	expr = strings.TrimSpace(expr)
	if isFakeIdentifier(expr) {
		return f.globals[expr]
	}
	if inner, ok := strings.CutPrefix(expr, "size("); ok && strings.HasSuffix(inner, ")") {
		v := f.globals[strings.TrimSuffix(inner, ")")]
		if v == nil || v.dims == nil {
			return nil
		}
		return &fakeVar{elem: "Tuple", tuple: append([]int(nil), v.dims...)}
	}
	v, err := parseFakeLiteral(expr)
	if err != nil {
		return nil
	}
	return v
}

func (v *fakeVar) numeric() bool {
	switch v.elem {
	case "Int8", "Int16", "Int32", "Int64", "Float32", "Float64":
		return true
	}
	return false
}

// native returns what a native binding hands back for the value.
func (v *fakeVar) native(noNative bool) any {
	switch {
	case v.elem == "Nothing":
		return nil
	case v.elem == "Tuple":
		return fakeOpaque("Tuple")
	case v.dims == nil:
		switch x := v.data[0].(type) {
		case Char:
			return fakeOpaque("Char")
		default:
			return x
		}
	case !v.numeric() || noNative:
		return fakeOpaque("Array")
	}
	shape := make([]int, len(v.dims))
	for i, d := range v.dims {
		shape[len(v.dims)-1-i] = d
	}
	return &Array{Type: fakeElementType(v.elem), Shape: shape, Data: fakeTypedData(v.elem, v.data)}
}

// json renders the value the way JSON.json does: arrays as nested columns.
func (v *fakeVar) json() string {
	switch {
	case v.elem == "Nothing":
		return "null"
	case v.elem == "Tuple":
		parts := make([]string, len(v.tuple))
		for i, d := range v.tuple {
			parts[i] = strconv.Itoa(d)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case v.dims == nil:
		return fakeJSONElement(v.elem, v.data[0])
	case len(v.dims) == 1:
		return v.jsonRange(0, v.dims[0])
	}
	rows, cols := v.dims[0], v.dims[1]
	columns := make([]string, cols)
	for c := 0; c < cols; c++ {
		columns[c] = v.jsonRange(c*rows, rows)
	}
	return "[" + strings.Join(columns, ",") + "]"
}

func (v *fakeVar) jsonRange(offset, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fakeJSONElement(v.elem, v.data[offset+i])
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func fakeJSONElement(elem string, e any) string {
	switch x := e.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "null"
		}
		if elem == "Float32" {
			return strconv.FormatFloat(x, 'g', -1, 32)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		b, _ := json.Marshal(x)
		return string(b)
	case Char:
		b, _ := json.Marshal(string(rune(x)))
		return string(b)
	}
	return "null"
}

var fakeTypeNames = map[ElementType]string{
	Int8: "Int8", Int16: "Int16", Int32: "Int32", Int64: "Int64", Float32: "Float32", Float64: "Float64",
}

func fakeElementType(elem string) ElementType {
	for t, name := range fakeTypeNames {
		if name == elem {
			return t
		}
	}
	return ""
}

func fakeVarFromArray(a *Array) *fakeVar {
	dims := make([]int, len(a.Shape))
	for i, d := range a.Shape {
		dims[len(a.Shape)-1-i] = d
	}
	var data []any
	switch d := a.Data.(type) {
	case []int8:
		for _, x := range d {
			data = append(data, int64(x))
		}
	case []int16:
		for _, x := range d {
			data = append(data, int64(x))
		}
	case []int32:
		for _, x := range d {
			data = append(data, int64(x))
		}
	case []int64:
		for _, x := range d {
			data = append(data, x)
		}
	case []float32:
		for _, x := range d {
			data = append(data, float64(x))
		}
	case []float64:
		for _, x := range d {
			data = append(data, x)
		}
	}
	return &fakeVar{elem: fakeTypeNames[a.Type], dims: dims, data: data}
}

func fakeTypedData(elem string, data []any) any {
	switch elem {
	case "Int8":
		out := make([]int8, len(data))
		for i, x := range data {
			out[i] = int8(x.(int64))
		}
		return out
	case "Int16":
		out := make([]int16, len(data))
		for i, x := range data {
			out[i] = int16(x.(int64))
		}
		return out
	case "Int32":
		out := make([]int32, len(data))
		for i, x := range data {
			out[i] = int32(x.(int64))
		}
		return out
	case "Int64":
		out := make([]int64, len(data))
		for i, x := range data {
			out[i] = x.(int64)
		}
		return out
	case "Float32":
		out := make([]float32, len(data))
		for i, x := range data {
			out[i] = float32(x.(float64))
		}
		return out
	default:
		out := make([]float64, len(data))
		for i, x := range data {
			out[i] = x.(float64)
		}
		return out
	}
}

func isFakeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// balanced reports whether brackets outside string and char literals match.
func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\'':
			quote := s[i]
			for i++; i < len(s) && s[i] != quote; i++ {
				if s[i] == '\\' {
					i++
				}
			}
			if i >= len(s) {
				return false
			}
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// fakeParser reads the Julia literals the marshaller produces.
type fakeParser struct {
	s   string
	pos int
}

func parseFakeLiteral(s string) (*fakeVar, error) {
	p := &fakeParser{s: strings.TrimSpace(s)}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("unexpected %q", p.s[p.pos:])
	}
	return v, nil
}

var fakeElemNames = []string{"Int8", "Int16", "Int32", "Int64", "Float32", "Float64", "Bool", "String", "Char"}

func (p *fakeParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\n') {
		p.pos++
	}
}

func (p *fakeParser) consume(token string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.s[p.pos:], token) {
		p.pos += len(token)
		return true
	}
	return false
}

func (p *fakeParser) parseValue() (*fakeVar, error) {
	if p.consume("reshape(") {
		vec, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if len(vec.dims) != 1 || !p.consume(",") {
			return nil, errors.New("reshape expects a vector")
		}
		rows, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		if !p.consume(",") {
			return nil, errors.New("reshape expects two dims")
		}
		cols, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") || rows*cols != len(vec.data) {
			return nil, errors.New("DimensionMismatch")
		}
		return &fakeVar{elem: vec.elem, dims: []int{rows, cols}, data: vec.data}, nil
	}
	if p.consume("nothing") {
		return &fakeVar{elem: "Nothing"}, nil
	}
	for _, name := range fakeElemNames {
		if !strings.HasPrefix(p.s[p.pos:], name+"[") && !strings.HasPrefix(p.s[p.pos:], name+"(") {
			continue
		}
		p.pos += len(name)
		if p.consume("(") {
			e, err := p.parseElem(name)
			if err != nil {
				return nil, err
			}
			if !p.consume(")") {
				return nil, errors.New("missing )")
			}
			return &fakeVar{elem: name, data: []any{e}}, nil
		}
		p.consume("[")
		data := []any{}
		if !p.consume("]") {
			for {
				e, err := p.parseElem(name)
				if err != nil {
					return nil, err
				}
				data = append(data, e)
				if p.consume("]") {
					break
				}
				if !p.consume(",") {
					return nil, errors.New("missing ,")
				}
			}
		}
		return &fakeVar{elem: name, dims: []int{len(data)}, data: data}, nil
	}
	e, elem, err := p.parseUntyped()
	if err != nil {
		return nil, err
	}
	return &fakeVar{elem: elem, data: []any{e}}, nil
}

func (p *fakeParser) parseInt() (int, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	return strconv.Atoi(p.s[start:p.pos])
}

func (p *fakeParser) parseElem(elem string) (any, error) {
	v, kind, err := p.parseUntyped()
	if err != nil {
		return nil, err
	}
	switch {
	case elem == "Float32" || elem == "Float64":
		if kind == "Int64" {
			return float64(v.(int64)), nil
		}
		if kind == "Float64" {
			return v, nil
		}
	case strings.HasPrefix(elem, "Int"):
		if kind == "Int64" {
			return v, nil
		}
	case elem == kind:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", kind, elem)
}

func (p *fakeParser) parseUntyped() (any, string, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return nil, "", errors.New("unexpected end")
	}
	switch {
	case p.s[p.pos] == '"':
		s, err := p.parseQuoted('"')
		return s, "String", err
	case p.s[p.pos] == '\'':
		s, err := p.parseQuoted('\'')
		if err != nil {
			return nil, "", err
		}
		if utf8.RuneCountInString(s) != 1 {
			return nil, "", errors.New("invalid character literal")
		}
		r, _ := utf8.DecodeRuneInString(s)
		return Char(r), "Char", nil
	case p.consume("true"):
		return true, "Bool", nil
	case p.consume("false"):
		return false, "Bool", nil
	case p.consume("NaN"):
		return math.NaN(), "Float64", nil
	case p.consume("Inf"):
		return math.Inf(1), "Float64", nil
	case p.consume("-Inf"):
		return math.Inf(-1), "Float64", nil
	}
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("+-0123456789.eE", p.s[p.pos]) >= 0 {
		p.pos++
	}
	text := p.s[start:p.pos]
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		return f, "Float64", err
	}
	n, err := strconv.ParseInt(text, 10, 64)
	return n, "Int64", err
}

func (p *fakeParser) parseQuoted(quote byte) (string, error) {
	var b strings.Builder
	for p.pos++; p.pos < len(p.s); p.pos++ {
		c := p.s[p.pos]
		if c == quote {
			p.pos++
			return b.String(), nil
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		p.pos++
		if p.pos >= len(p.s) {
			break
		}
		switch p.s[p.pos] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'x':
			if p.pos+2 >= len(p.s) {
				return "", errors.New("invalid escape")
			}
			n, err := strconv.ParseUint(p.s[p.pos+1:p.pos+3], 16, 8)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(n))
			p.pos += 2
		default:
			b.WriteByte(p.s[p.pos])
		}
	}
	return "", errors.New("unterminated literal")
}
