package ctxbuf

import (
	"reflect"
	"unsafe"
)

// uintptrOf and funcPtr exist only to give the synthetic SP/PC fields a
// plausible-looking, non-zero value to mangle; the engine never
// dereferences either.

func uintptrOf(p *byte) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func funcPtr(fn func()) uintptr {
	return reflect.ValueOf(fn).Pointer()
}
