//go:build windows

// recc-agent is the module injected into the target. Build it with
// -buildmode=c-shared; the controller loads it through a remote stub and
// drives it through the three exported entry points.
package main

/*
#include <wchar.h>
*/
import "C"

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/agent"
)

//export recc_log
func recc_log(path *C.wchar_t) C.int {
	return C.int(agent.InstallLog(wideString(path)))
}

//export recc_capture
func recc_capture(path *C.wchar_t, api, format *C.char) C.int {
	return C.int(agent.InitializeCapture(wideString(path), C.GoString(api), C.GoString(format)))
}

//export recc_release
func recc_release() C.int {
	return C.int(agent.ReleaseCapture())
}

// reccAgentDetach backs the library's unload hook in detach.c.
//
//export reccAgentDetach
func reccAgentDetach() {
	agent.ReleaseCapture()
}

func wideString(p *C.wchar_t) string {
	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(p)))
}

func main() {}
