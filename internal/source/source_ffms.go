//go:build cgo_source

// Package source: FFMS2-backed Handle implementation. Gated behind the
// cgo_source build tag so the rest of the module (and its tests) can build
// without linking against FFMS2.
package source

/*
#cgo pkg-config: ffms2
#include <ffms.h>
#include <stdlib.h>

#define ERR_BUF_SIZE 1024

static FFMS_ErrorInfo *avchunk_new_errinfo(void) {
	FFMS_ErrorInfo *e = (FFMS_ErrorInfo *)malloc(sizeof(FFMS_ErrorInfo));
	e->Buffer = (char *)malloc(ERR_BUF_SIZE);
	e->BufferSize = ERR_BUF_SIZE;
	e->Buffer[0] = '\0';
	return e;
}

static void avchunk_free_errinfo(FFMS_ErrorInfo *e) {
	if (e) {
		free(e->Buffer);
		free(e);
	}
}

static const char *avchunk_errmsg(FFMS_ErrorInfo *e) {
	return e->Buffer;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/five82/avchunk/internal/chunkspec"
	"github.com/five82/avchunk/internal/corerr"
	"github.com/five82/avchunk/internal/ratespec"
)

var ffmsInitOnce sync.Once

func ffmsInit() {
	ffmsInitOnce.Do(func() { C.FFMS_Init(0, 0) })
}

func init() {
	openImpl = openFFMS
}

type ffmsHandle struct {
	idx    *C.FFMS_Index
	src    *C.FFMS_VideoSource
	frames int
	rate   ratespec.Rate
	w, h   int
	depth  chunkspec.PixelFormat
	color  chunkspec.ColorMeta

	// scratch holds a byte-for-byte copy of the most recently decoded
	// frame's planes, reused across calls per the single-writer contract.
	scratch []byte
}

func openFFMS(path string) (Handle, error) {
	ffmsInit()

	errInfo := C.avchunk_new_errinfo()
	defer C.avchunk_free_errinfo(errInfo)

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	indexer := C.FFMS_CreateIndexer(cPath, errInfo)
	if indexer == nil {
		return nil, corerr.Wrap(corerr.KindIndexBuild, "create indexer", fmt.Errorf("%s", C.GoString(C.avchunk_errmsg(errInfo))))
	}

	idx := C.FFMS_DoIndexing2(indexer, C.int(0), errInfo)
	if idx == nil {
		return nil, corerr.Wrap(corerr.KindIndexBuild, "index", fmt.Errorf("%s", C.GoString(C.avchunk_errmsg(errInfo))))
	}

	trackNum := C.FFMS_GetFirstTrackOfType(idx, C.FFMS_TYPE_VIDEO, errInfo)
	if trackNum < 0 {
		C.FFMS_DestroyIndex(idx)
		return nil, corerr.Wrap(corerr.KindUnsupportedFormat, "no video track", fmt.Errorf("%s", C.GoString(C.avchunk_errmsg(errInfo))))
	}

	src := C.FFMS_CreateVideoSource(cPath, trackNum, idx, 1, C.FFMS_SEEK_NORMAL, errInfo)
	if src == nil {
		C.FFMS_DestroyIndex(idx)
		return nil, corerr.Wrap(corerr.KindIO, "create video source", fmt.Errorf("%s", C.GoString(C.avchunk_errmsg(errInfo))))
	}

	props := C.FFMS_GetVideoProperties(src)
	frame := C.FFMS_GetFrame(src, 0, errInfo)
	if frame == nil {
		C.FFMS_DestroyVideoSource(src)
		C.FFMS_DestroyIndex(idx)
		return nil, corerr.Wrap(corerr.KindDecode, "decode frame 0", fmt.Errorf("%s", C.GoString(C.avchunk_errmsg(errInfo))))
	}

	pixFmt := int(frame.ConvertedPixelFormat)
	is10Bit := pixFmt >= 62 && pixFmt <= 67
	depth := chunkspec.Format8Bit420
	if is10Bit {
		depth = chunkspec.Format10Bit420
	} else if pixFmt != 0 {
		return nil, corerr.New(corerr.KindUnsupportedFormat, "only 8-bit and 10-bit 4:2:0 are supported")
	}

	h := &ffmsHandle{
		idx:    idx,
		src:    src,
		frames: int(props.NumFrames),
		rate:   ratespec.Rate{Num: uint32(props.FPSNumerator), Den: uint32(props.FPSDenominator)},
		w:      int(frame.EncodedWidth),
		h:      int(frame.EncodedHeight),
		depth:  depth,
		color:  colorFromFrame(frame),
	}
	return h, nil
}

func colorFromFrame(frame *C.FFMS_Frame) chunkspec.ColorMeta {
	var m chunkspec.ColorMeta
	if frame.ColorPrimaries > 0 {
		m.Primaries = chunkspec.ColorValue{Value: int(frame.ColorPrimaries), Present: true}
	}
	if frame.TransferCharateristics > 0 { // FFMS2 header typo, kept for fidelity
		m.Transfer = chunkspec.ColorValue{Value: int(frame.TransferCharateristics), Present: true}
	}
	if frame.ColorSpace > 0 {
		m.Matrix = chunkspec.ColorValue{Value: int(frame.ColorSpace), Present: true}
	}
	return m
}

func (h *ffmsHandle) Frames() int                   { return h.frames }
func (h *ffmsHandle) Rate() ratespec.Rate            { return h.rate }
func (h *ffmsHandle) Size() (int, int)               { return h.w, h.h }
func (h *ffmsHandle) Depth() chunkspec.PixelFormat    { return h.depth }
func (h *ffmsHandle) Color() chunkspec.ColorMeta      { return h.color }

func (h *ffmsHandle) Decode(i int) (FrameView, error) {
	errInfo := C.avchunk_new_errinfo()
	defer C.avchunk_free_errinfo(errInfo)

	frame := C.FFMS_GetFrame(h.src, C.int(i), errInfo)
	if frame == nil {
		return FrameView{}, corerr.Wrap(corerr.KindDecode, fmt.Sprintf("decode frame %d", i), fmt.Errorf("%s", C.GoString(C.avchunk_errmsg(errInfo))))
	}

	ySize := int(frame.Linesize[0]) * h.h
	uSize := int(frame.Linesize[1]) * (h.h / 2)
	vSize := int(frame.Linesize[2]) * (h.h / 2)
	need := ySize + uSize + vSize
	if cap(h.scratch) < need {
		h.scratch = make([]byte, need)
	}
	h.scratch = h.scratch[:need]

	yData := unsafe.Slice((*byte)(unsafe.Pointer(frame.Data[0])), ySize)
	uData := unsafe.Slice((*byte)(unsafe.Pointer(frame.Data[1])), uSize)
	vData := unsafe.Slice((*byte)(unsafe.Pointer(frame.Data[2])), vSize)
	copy(h.scratch[:ySize], yData)
	copy(h.scratch[ySize:ySize+uSize], uData)
	copy(h.scratch[ySize+uSize:], vData)

	return FrameView{
		Y:       h.scratch[:ySize],
		U:       h.scratch[ySize : ySize+uSize],
		V:       h.scratch[ySize+uSize:],
		YStride: int(frame.Linesize[0]),
		UStride: int(frame.Linesize[1]),
		VStride: int(frame.Linesize[2]),
	}, nil
}

func (h *ffmsHandle) Close() error {
	if h.src != nil {
		C.FFMS_DestroyVideoSource(h.src)
		h.src = nil
	}
	if h.idx != nil {
		C.FFMS_DestroyIndex(h.idx)
		h.idx = nil
	}
	return nil
}
