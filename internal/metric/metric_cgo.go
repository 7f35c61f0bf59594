//go:build cgo_metric

// Package metric: GPU-backed Processor binding a VSHIP-style SSIMULACRA2
// library. Gated behind the cgo_metric build tag so the rest of the module
// (and its tests) build without linking a GPU library, the same pattern
// internal/source uses for FFMS2 behind cgo_source.
//
// Uses the same C API surface (Vship_SSIMU2Handler, Vship_Colorspace_t),
// generalized here to take this module's chunkspec.ColorMeta directly
// instead of *int field pointers, and to score chunkbuf.FrameSamples
// instead of raw unsafe.Pointer/stride pairs (the Processor interface owns
// that conversion once, here, instead of at every call site).
package metric

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lvship

#include <stdlib.h>
#include <VshipAPI.h>
#include <VshipColor.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/five82/avchunk/internal/chunkbuf"
	"github.com/five82/avchunk/internal/chunkspec"
)

func init() {
	newProcessorImpl = newGPUProcessor
	initDeviceImpl = initDevice
}

func initDevice() error {
	ret := C.Vship_SetDevice(0)
	if ret != C.Vship_NoError {
		return fmt.Errorf("metric: VSHIP failed to set device: %s (detail: %s)", errorMessage(ret), detailedError())
	}
	return nil
}

type gpuProcessor struct {
	handler C.Vship_SSIMU2Handler
}

func newGPUProcessor(w, h int, color chunkspec.ColorMeta) (Processor, error) {
	cs := colorspace(w, h, color)

	var handler C.Vship_SSIMU2Handler
	ret := C.Vship_SSIMU2Init(&handler, cs, cs)
	if ret != C.Vship_NoError {
		return nil, fmt.Errorf("metric: failed to initialize SSIMULACRA2: %s", errorMessage(ret))
	}
	return &gpuProcessor{handler: handler}, nil
}

func (p *gpuProcessor) Score(ref, dis chunkbuf.FrameSamples) (float64, error) {
	refPlanes := [3]unsafe.Pointer{samplePtr(ref.Y), samplePtr(ref.U), samplePtr(ref.V)}
	disPlanes := [3]unsafe.Pointer{samplePtr(dis.Y), samplePtr(dis.U), samplePtr(dis.V)}
	refStrides := [3]int64{int64(ref.YW) * 2, int64(ref.CW) * 2, int64(ref.CW) * 2}
	disStrides := [3]int64{int64(dis.YW) * 2, int64(dis.CW) * 2, int64(dis.CW) * 2}

	refPtrs := C.malloc(3 * C.size_t(unsafe.Sizeof(uintptr(0))))
	disPtrs := C.malloc(3 * C.size_t(unsafe.Sizeof(uintptr(0))))
	refLineSizes := C.malloc(3 * C.size_t(unsafe.Sizeof(C.int64_t(0))))
	disLineSizes := C.malloc(3 * C.size_t(unsafe.Sizeof(C.int64_t(0))))
	defer C.free(refPtrs)
	defer C.free(disPtrs)
	defer C.free(refLineSizes)
	defer C.free(disLineSizes)

	refPtrSlice := (*[3]*C.uint8_t)(refPtrs)
	disPtrSlice := (*[3]*C.uint8_t)(disPtrs)
	refLineSlice := (*[3]C.int64_t)(refLineSizes)
	disLineSlice := (*[3]C.int64_t)(disLineSizes)

	for i := range 3 {
		refPtrSlice[i] = (*C.uint8_t)(refPlanes[i])
		disPtrSlice[i] = (*C.uint8_t)(disPlanes[i])
		refLineSlice[i] = C.int64_t(refStrides[i])
		disLineSlice[i] = C.int64_t(disStrides[i])
	}

	var score C.double
	ret := C.Vship_ComputeSSIMU2(
		p.handler,
		&score,
		(**C.uint8_t)(refPtrs),
		(**C.uint8_t)(disPtrs),
		(*C.int64_t)(refLineSizes),
		(*C.int64_t)(disLineSizes),
	)
	if ret != C.Vship_NoError {
		return 0, fmt.Errorf("metric: SSIMULACRA2 computation failed: %s", errorMessage(ret))
	}
	return float64(score), nil
}

func (p *gpuProcessor) Close() error {
	if p.handler.id == 0 {
		return nil
	}
	ret := C.Vship_SSIMU2Free(p.handler)
	if ret != C.Vship_NoError {
		return fmt.Errorf("metric: failed to free SSIMULACRA2 handler")
	}
	p.handler.id = 0
	return nil
}

func samplePtr(s []uint16) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

// colorspace builds a Vship_Colorspace_t from this module's color
// metadata. Chunk buffers are always 10-bit 4:2:0 (spec §4.C), so sample
// type and subsampling are fixed; only the color characteristics vary per
// source.
func colorspace(w, h int, color chunkspec.ColorMeta) C.Vship_Colorspace_t {
	var cs C.Vship_Colorspace_t

	cs.width = C.int64_t(w)
	cs.height = C.int64_t(h)
	cs.target_width = -1
	cs.target_height = -1
	cs.sample = C.Vship_SampleUINT10
	cs.subsampling = C.Vship_ChromaSubsample_t{subw: 1, subh: 1}
	cs.chromaLocation = C.Vship_ChromaLoc_Left
	cs.colorFamily = C.Vship_ColorYUV
	cs.crop = C.Vship_CropRectangle_t{top: 0, bottom: 0, left: 0, right: 0}

	cs._range = C.Vship_RangeLimited
	if color.Range == chunkspec.RangeFull {
		cs._range = C.Vship_RangeFull
	}

	cs.YUVMatrix = C.Vship_MATRIX_BT709
	if color.Matrix.Present {
		switch color.Matrix.Value {
		case 0:
			cs.YUVMatrix = C.Vship_MATRIX_RGB
		case 5:
			cs.YUVMatrix = C.Vship_MATRIX_BT470_BG
		case 6:
			cs.YUVMatrix = C.Vship_MATRIX_ST170_M
		case 9:
			cs.YUVMatrix = C.Vship_MATRIX_BT2020_NCL
		case 10:
			cs.YUVMatrix = C.Vship_MATRIX_BT2020_CL
		case 14:
			cs.YUVMatrix = C.Vship_MATRIX_BT2100_ICTCP
		}
	}

	cs.transferFunction = C.Vship_TRC_BT709
	if color.Transfer.Present {
		switch color.Transfer.Value {
		case 4:
			cs.transferFunction = C.Vship_TRC_BT470_M
		case 5:
			cs.transferFunction = C.Vship_TRC_BT470_BG
		case 6:
			cs.transferFunction = C.Vship_TRC_BT601
		case 8:
			cs.transferFunction = C.Vship_TRC_Linear
		case 13:
			cs.transferFunction = C.Vship_TRC_sRGB
		case 16:
			cs.transferFunction = C.Vship_TRC_PQ
		case 17:
			cs.transferFunction = C.Vship_TRC_ST428
		case 18:
			cs.transferFunction = C.Vship_TRC_HLG
		}
	}

	cs.primaries = C.Vship_PRIMARIES_BT709
	if color.Primaries.Present {
		switch color.Primaries.Value {
		case 4:
			cs.primaries = C.Vship_PRIMARIES_BT470_M
		case 5:
			cs.primaries = C.Vship_PRIMARIES_BT470_BG
		case 9:
			cs.primaries = C.Vship_PRIMARIES_BT2020
		}
	}

	return cs
}

func detailedError() string {
	buf := make([]C.char, 2048)
	C.Vship_GetDetailedLastError(&buf[0], 2048)
	return C.GoString(&buf[0])
}

func errorMessage(exc C.Vship_Exception) string {
	buf := make([]C.char, 1024)
	C.Vship_GetErrorMessage(exc, &buf[0], 1024)
	return C.GoString(&buf[0])
}
