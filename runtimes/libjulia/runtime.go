// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build julia

package libjulia

/*
#cgo CFLAGS: -fPIC
#cgo LDFLAGS: -ljulia
#include <stdlib.h>
#include <string.h>
#include <julia.h>

#if JULIA_VERSION_MAJOR == 1 && JULIA_VERSION_MINOR >= 11
#define JLEXEC_DATA(a) ((void *)jl_array_data((a), char))
#else
#define JLEXEC_DATA(a) ((void *)jl_array_data(a))
#endif

enum {
	JLEXEC_OTHER = 0,
	JLEXEC_NOTHING,
	JLEXEC_BOOL,
	JLEXEC_STRING,
	JLEXEC_INT,
	JLEXEC_FLOAT,
	JLEXEC_ARRAY,
};

static jl_datatype_t *jlexec_type(int code) {
	switch (code) {
	case 1: return jl_int8_type;
	case 2: return jl_int16_type;
	case 3: return jl_int32_type;
	case 4: return jl_int64_type;
	case 5: return jl_float32_type;
	case 6: return jl_float64_type;
	}
	return NULL;
}

static int jlexec_type_code(jl_value_t *t) {
	for (int code = 1; code <= 6; code++) {
		if (t == (jl_value_t *)jlexec_type(code)) {
			return code;
		}
	}
	return 0;
}

static void jlexec_boot(const char *bindir) {
	if (bindir != NULL) {
		jl_init_with_image(bindir, NULL);
	} else {
		jl_init();
	}
}

static int jlexec_kind(jl_value_t *v) {
	if (jl_is_nothing(v)) return JLEXEC_NOTHING;
	jl_value_t *t = jl_typeof(v);
	if (t == (jl_value_t *)jl_bool_type) return JLEXEC_BOOL;
	if (jl_is_string(v)) return JLEXEC_STRING;
	if (t == (jl_value_t *)jl_int8_type || t == (jl_value_t *)jl_int16_type ||
	    t == (jl_value_t *)jl_int32_type || t == (jl_value_t *)jl_int64_type) return JLEXEC_INT;
	if (t == (jl_value_t *)jl_float32_type || t == (jl_value_t *)jl_float64_type) return JLEXEC_FLOAT;
	if (jl_is_array(v) && jl_array_ndims((jl_array_t *)v) <= 2 &&
	    jlexec_type_code((jl_value_t *)jl_array_eltype(v)) != 0) return JLEXEC_ARRAY;
	return JLEXEC_OTHER;
}

static long long jlexec_int(jl_value_t *v) {
	jl_value_t *t = jl_typeof(v);
	if (t == (jl_value_t *)jl_int8_type) return jl_unbox_int8(v);
	if (t == (jl_value_t *)jl_int16_type) return jl_unbox_int16(v);
	if (t == (jl_value_t *)jl_int32_type) return jl_unbox_int32(v);
	return jl_unbox_int64(v);
}

static double jlexec_float(jl_value_t *v) {
	if (jl_typeof(v) == (jl_value_t *)jl_float32_type) return jl_unbox_float32(v);
	return jl_unbox_float64(v);
}

static int jlexec_array_type(jl_value_t *v) {
	return jlexec_type_code((jl_value_t *)jl_array_eltype(v));
}

static int jlexec_array_ndims(jl_value_t *v) {
	return jl_array_ndims((jl_array_t *)v);
}

static size_t jlexec_array_dim(jl_value_t *v, int i) {
	return jl_array_dim((jl_array_t *)v, i);
}

static void *jlexec_array_data(jl_value_t *v) {
	return JLEXEC_DATA((jl_array_t *)v);
}

static size_t jlexec_string_len(jl_value_t *v) {
	return jl_string_len(v);
}

static const char *jlexec_string_ptr(jl_value_t *v) {
	return jl_string_ptr(v);
}

static const char *jlexec_type_name(jl_value_t *v) {
	return jl_typeof_str(v);
}

static const char *jlexec_exception(void) {
	jl_value_t *e = jl_exception_occurred();
	if (e == NULL) return NULL;
	jl_exception_clear();
	return jl_typeof_str(e);
}

// jlexec_invoke calls the Main function fn with a string and an optional
// array argument built from a column-major buffer.
static jl_value_t *jlexec_invoke(const char *fn, const char *name, int code,
                                 int ndims, size_t d0, size_t d1,
                                 void *data, size_t nbytes) {
	jl_function_t *f = jl_get_function(jl_main_module, fn);
	if (f == NULL) return NULL;
	jl_value_t *str = NULL;
	jl_value_t *arr = NULL;
	jl_value_t *result = NULL;
	JL_GC_PUSH3(&str, &arr, &result);
	str = jl_cstr_to_string(name);
	if (code == 0) {
		result = jl_call1(f, str);
	} else {
		jl_datatype_t *elt = jlexec_type(code);
		if (ndims == 1) {
			arr = (jl_value_t *)jl_alloc_array_1d(jl_apply_array_type((jl_value_t *)elt, 1), d0);
		} else {
			arr = (jl_value_t *)jl_alloc_array_2d(jl_apply_array_type((jl_value_t *)elt, 2), d0, d1);
		}
		if (nbytes > 0) {
			memcpy(JLEXEC_DATA((jl_array_t *)arr), data, nbytes);
		}
		result = jl_call2(f, str, arr);
	}
	JL_GC_POP();
	return result;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"unsafe"

	juliaexecutor "github.com/buke/julia-executor"
)

// maxStringLength bounds how much of a returned string is copied.
const maxStringLength = 256 << 20

var (
	// ErrAlreadyBooted is returned when a second interpreter is booted in one process.
	ErrAlreadyBooted = errors.New("libjulia is already booted in this process")

	// ErrShutdown is returned when booting after the interpreter was shut down.
	ErrShutdown = errors.New("libjulia has been shut down")

	// ErrNotBooted is returned by calls on a runtime that is not live.
	ErrNotBooted = errors.New("libjulia runtime is not booted")

	booted int32 // Atomic: set once the process interpreter is live
)

// Opaque is a Julia value without a host representation.
type Opaque struct {
	TypeName string
}

func (o *Opaque) String() string {
	return "julia value of type " + o.TypeName
}

// Runtime is a juliaexecutor.Runtime on the in-process libjulia.
type Runtime struct {
	logger *slog.Logger
	live   bool
	exited bool
}

var _ juliaexecutor.Runtime = (*Runtime)(nil)

// Option configures a libjulia Runtime.
type Option func(*Runtime) error

// WithLogger configures the runtime logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) error {
		r.logger = logger
		return nil
	}
}

// New creates an in-process runtime. The interpreter starts on Boot.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewFactory returns a RuntimeFactory for the single in-process interpreter.
func NewFactory(opts ...Option) juliaexecutor.RuntimeFactory {
	return func() (juliaexecutor.Runtime, error) {
		return New(opts...)
	}
}

// Boot initializes libjulia. Threads are set through JULIA_NUM_THREADS.
func (r *Runtime) Boot(opts juliaexecutor.RuntimeOptions) error {
	if r.live {
		return nil
	}
	if r.exited {
		return ErrShutdown
	}
	if !atomic.CompareAndSwapInt32(&booted, 0, 1) {
		return ErrAlreadyBooted
	}

	if opts.Threads > 0 {
		if err := os.Setenv("JULIA_NUM_THREADS", strconv.Itoa(opts.Threads)); err != nil {
			return fmt.Errorf("failed to set JULIA_NUM_THREADS: %w", err)
		}
	}
	if opts.JuliaHome != "" {
		bindir := C.CString(filepath.Join(opts.JuliaHome, "bin"))
		defer C.free(unsafe.Pointer(bindir))
		C.jlexec_boot(bindir)
	} else {
		C.jlexec_boot(nil)
	}
	r.live = true
	if r.logger != nil {
		r.logger.Debug("libjulia initialized", "home", opts.JuliaHome, "threads", opts.Threads)
	}
	return nil
}

// Booted reports whether the interpreter is live.
func (r *Runtime) Booted() bool {
	return r.live
}

// EvalString evaluates code in Main. Exceptions yield a nil result.
func (r *Runtime) EvalString(code string) (any, error) {
	if !r.live {
		return nil, ErrNotBooted
	}
	ccode := C.CString(code)
	defer C.free(unsafe.Pointer(ccode))

	v := C.jl_eval_string(ccode)
	if ex := C.jlexec_exception(); ex != nil {
		if r.logger != nil {
			r.logger.Debug("Julia evaluation failed", "exception", C.GoString(ex))
		}
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}
	return r.convert(v)
}

// Invoke calls a global function of Main with a string and an optional array.
func (r *Runtime) Invoke(function string, args ...any) (any, error) {
	if !r.live {
		return nil, ErrNotBooted
	}
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("invoke takes a name and an optional array, got %d arguments", len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument 0: expected string, got %T", args[0])
	}

	cfn := C.CString(function)
	defer C.free(unsafe.Pointer(cfn))
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var code, ndims C.int
	var d0, d1 C.size_t
	var data unsafe.Pointer
	var nbytes C.size_t
	if len(args) == 2 {
		a, ok := args[1].(*juliaexecutor.Array)
		if !ok {
			return nil, fmt.Errorf("argument 1: expected *Array, got %T", args[1])
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if len(a.Shape) < 1 || len(a.Shape) > 2 {
			return nil, fmt.Errorf("unsupported array rank %d", len(a.Shape))
		}
		code = C.int(typeCode(a.Type))
		// Shape lists columns first; julia dims are rows first.
		ndims = C.int(len(a.Shape))
		d0 = C.size_t(a.Shape[len(a.Shape)-1])
		if len(a.Shape) == 2 {
			d1 = C.size_t(a.Shape[0])
		}
		buf, size := rawBytes(a)
		if size > 0 {
			cbuf := C.CBytes(buf)
			defer C.free(cbuf)
			data, nbytes = cbuf, C.size_t(size)
		}
	}

	v := C.jlexec_invoke(cfn, cname, code, ndims, d0, d1, data, nbytes)
	if ex := C.jlexec_exception(); ex != nil {
		return &juliaexecutor.JuliaException{Message: C.GoString(ex)}, nil
	}
	if v == nil {
		return &juliaexecutor.JuliaException{Message: "UndefVarError: " + function}, nil
	}
	return r.convert(v)
}

// Shutdown runs the interpreter exit hook. The interpreter cannot be booted again.
func (r *Runtime) Shutdown() error {
	if !r.live {
		return nil
	}
	C.jl_atexit_hook(0)
	r.live = false
	r.exited = true
	return nil
}

func (r *Runtime) convert(v *C.jl_value_t) (any, error) {
	switch C.jlexec_kind(v) {
	case C.JLEXEC_NOTHING:
		return &Opaque{TypeName: "Nothing"}, nil
	case C.JLEXEC_BOOL:
		return C.jl_unbox_bool(v) != 0, nil
	case C.JLEXEC_STRING:
		n := int(C.jlexec_string_len(v))
		if n > maxStringLength {
			n = maxStringLength
		}
		return C.GoStringN(C.jlexec_string_ptr(v), C.int(n)), nil
	case C.JLEXEC_INT:
		return int64(C.jlexec_int(v)), nil
	case C.JLEXEC_FLOAT:
		return float64(C.jlexec_float(v)), nil
	case C.JLEXEC_ARRAY:
		return convertArray(v)
	default:
		return &Opaque{TypeName: C.GoString(C.jlexec_type_name(v))}, nil
	}
}

// convertArray copies a native array into a descriptor with reversed dims.
func convertArray(v *C.jl_value_t) (*juliaexecutor.Array, error) {
	ndims := int(C.jlexec_array_ndims(v))
	dims := make([]int, ndims)
	n := 1
	for i := 0; i < ndims; i++ {
		dims[i] = int(C.jlexec_array_dim(v, C.int(i)))
		n *= dims[i]
	}
	shape := make([]int, ndims)
	for i, d := range dims {
		shape[ndims-1-i] = d
	}

	ptr := C.jlexec_array_data(v)
	a := &juliaexecutor.Array{Shape: shape}
	switch C.jlexec_array_type(v) {
	case 1:
		a.Type, a.Data = juliaexecutor.Int8, copyData[int8](ptr, n)
	case 2:
		a.Type, a.Data = juliaexecutor.Int16, copyData[int16](ptr, n)
	case 3:
		a.Type, a.Data = juliaexecutor.Int32, copyData[int32](ptr, n)
	case 4:
		a.Type, a.Data = juliaexecutor.Int64, copyData[int64](ptr, n)
	case 5:
		a.Type, a.Data = juliaexecutor.Float32, copyData[float32](ptr, n)
	case 6:
		a.Type, a.Data = juliaexecutor.Float64, copyData[float64](ptr, n)
	default:
		return nil, fmt.Errorf("unsupported array element type")
	}
	return a, nil
}

func copyData[T int8 | int16 | int32 | int64 | float32 | float64](ptr unsafe.Pointer, n int) []T {
	out := make([]T, n)
	if n > 0 {
		copy(out, unsafe.Slice((*T)(ptr), n))
	}
	return out
}

func typeCode(t juliaexecutor.ElementType) int {
	switch t {
	case juliaexecutor.Int8:
		return 1
	case juliaexecutor.Int16:
		return 2
	case juliaexecutor.Int32:
		return 3
	case juliaexecutor.Int64:
		return 4
	case juliaexecutor.Float32:
		return 5
	case juliaexecutor.Float64:
		return 6
	default:
		return 0
	}
}

// rawBytes returns the in-memory bytes of the array data.
func rawBytes(a *juliaexecutor.Array) ([]byte, int) {
	var ptr unsafe.Pointer
	var size int
	switch d := a.Data.(type) {
	case []int8:
		if len(d) > 0 {
			ptr, size = unsafe.Pointer(&d[0]), len(d)
		}
	case []int16:
		if len(d) > 0 {
			ptr, size = unsafe.Pointer(&d[0]), len(d)*2
		}
	case []int32:
		if len(d) > 0 {
			ptr, size = unsafe.Pointer(&d[0]), len(d)*4
		}
	case []int64:
		if len(d) > 0 {
			ptr, size = unsafe.Pointer(&d[0]), len(d)*8
		}
	case []float32:
		if len(d) > 0 {
			ptr, size = unsafe.Pointer(&d[0]), len(d)*4
		}
	case []float64:
		if len(d) > 0 {
			ptr, size = unsafe.Pointer(&d[0]), len(d)*8
		}
	}
	if size == 0 {
		return nil, 0
	}
	return unsafe.Slice((*byte)(ptr), size), size
}
