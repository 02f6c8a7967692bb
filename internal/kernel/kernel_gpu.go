//go:build gpu

package kernel

/*
#cgo CFLAGS: -I${SRCDIR}/../../deps/opencl-headers
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -L${SRCDIR}/../../deps/lib -lOpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// gpuKernel dispatches the same per-dispatch protocol as cpuKernel
// (kernel_cpu.go), but onto an OpenCL device: current_states/start_points
// live in device buffers across calls, dp_buffer/dp_count are a single
// device allocation the kernel claims unique slots in via
// atomic_fetch_add, exactly as the CPU backend claims slots via
// sync/atomic, following the same cgo/OpenCL dispatch shape and CGO bridge
// idiom as other GPU-backed matchers in this codebase's lineage.
//
// The OpenCL kernel source itself is not part of this Go module; no
// device program source ships in this repo.
type gpuKernel struct {
	params hashparams.Params
	lanes  int

	platform C.cl_platform_id
	device   C.cl_device_id
	ctx      C.cl_context
	queue    C.cl_command_queue
	program  C.cl_program
	kern     C.cl_kernel

	bufStates C.cl_mem // current_states[W * num_words]
	bufStarts C.cl_mem // start_points[W * num_words]
	bufDPBuf  C.cl_mem // dp_buffer[M * 2*num_words]
	bufDPCnt  C.cl_mem // dp_count, atomic uint
}

// New initializes the OpenCL context and command queue and allocates the
// persistent device buffers. It does not build a device program, so
// program and kern stay unset. It satisfies the same Kernel
// interface as the CPU backend in kernel_cpu.go so internal/worker never
// branches on backend.
func New(cfg Config) (Kernel, error) {
	g := &gpuKernel{params: cfg.Params, lanes: cfg.Lanes}
	if err := g.initOpenCL(); err != nil {
		return nil, fmt.Errorf("kernel: opencl init: %w", err)
	}
	if err := g.allocateBuffers(cfg); err != nil {
		g.Close()
		return nil, fmt.Errorf("kernel: buffer allocation: %w", err)
	}
	return g, nil
}

func (g *gpuKernel) Lanes() int { return g.lanes }

func (g *gpuKernel) initOpenCL() error {
	var numPlatforms C.cl_uint
	if ret := C.clGetPlatformIDs(1, &g.platform, &numPlatforms); ret != C.CL_SUCCESS || numPlatforms == 0 {
		return fmt.Errorf("no OpenCL platform available (code %d)", ret)
	}
	var numDevices C.cl_uint
	if ret := C.clGetDeviceIDs(g.platform, C.CL_DEVICE_TYPE_GPU, 1, &g.device, &numDevices); ret != C.CL_SUCCESS || numDevices == 0 {
		return fmt.Errorf("no OpenCL GPU device available (code %d)", ret)
	}
	var ret C.cl_int
	g.ctx = C.clCreateContext(nil, 1, &g.device, nil, nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("clCreateContext failed (code %d)", ret)
	}
	g.queue = C.clCreateCommandQueueWithProperties(g.ctx, g.device, nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("clCreateCommandQueue failed (code %d)", ret)
	}
	return nil
}

// allocateBuffers sizes current_states/start_points to W lanes and
// dp_buffer/dp_count to cfg.MaxDPsPerCall.
func (g *gpuKernel) allocateBuffers(cfg Config) error {
	numWords := cfg.Params.NumWords()
	statesBytes := C.size_t(cfg.Lanes * numWords * 4)
	dpBufBytes := C.size_t(cfg.MaxDPsPerCall * 2 * numWords * 4)

	var ret C.cl_int
	g.bufStates = C.clCreateBuffer(g.ctx, C.CL_MEM_READ_WRITE, statesBytes, nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("allocate current_states failed (code %d)", ret)
	}
	g.bufStarts = C.clCreateBuffer(g.ctx, C.CL_MEM_READ_WRITE, statesBytes, nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("allocate start_points failed (code %d)", ret)
	}
	g.bufDPBuf = C.clCreateBuffer(g.ctx, C.CL_MEM_READ_WRITE, dpBufBytes, nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("allocate dp_buffer failed (code %d)", ret)
	}
	g.bufDPCnt = C.clCreateBuffer(g.ctx, C.CL_MEM_READ_WRITE, C.size_t(4), nil, &ret)
	if ret != C.CL_SUCCESS {
		return fmt.Errorf("allocate dp_count failed (code %d)", ret)
	}
	return nil
}

// Dispatch uploads freshStarts into dp_buffer's seed-pool half, resets
// dp_count to 0, runs the kernel for `steps` iterations per lane via
// clEnqueueNDRangeKernel, reads dp_count and dp_buffer back, and decodes
// the (start, dp) pairs written into the claimed slots — the host-side
// "prepare_buffers -> dispatch -> readback" pipeline.
func (g *gpuKernel) Dispatch(steps int, freshStarts []chain.State) (DispatchResult, error) {
	numWords := g.params.NumWords()
	m := len(freshStarts)

	seedHost := make([]byte, m*numWords*4)
	for i, s := range freshStarts {
		words := chain.Words(g.params, s)
		for w, word := range words {
			off := (i*numWords + w) * 4
			seedHost[off+0] = byte(word >> 24)
			seedHost[off+1] = byte(word >> 16)
			seedHost[off+2] = byte(word >> 8)
			seedHost[off+3] = byte(word)
		}
	}
	if ret := C.clEnqueueWriteBuffer(g.queue, g.bufDPBuf, C.CL_TRUE, 0,
		C.size_t(len(seedHost)), unsafe.Pointer(&seedHost[0]), 0, nil, nil); ret != C.CL_SUCCESS {
		return DispatchResult{}, fmt.Errorf("seed dp_buffer failed (code %d)", ret)
	}

	zero := uint32(0)
	if ret := C.clEnqueueWriteBuffer(g.queue, g.bufDPCnt, C.CL_TRUE, 0,
		4, unsafe.Pointer(&zero), 0, nil, nil); ret != C.CL_SUCCESS {
		return DispatchResult{}, fmt.Errorf("reset dp_count failed (code %d)", ret)
	}

	global := C.size_t(g.lanes)
	local := C.size_t(256)
	stepsArg := C.cl_uint(steps)
	_ = C.clSetKernelArg(g.kern, 4, C.size_t(unsafe.Sizeof(stepsArg)), unsafe.Pointer(&stepsArg))
	if ret := C.clEnqueueNDRangeKernel(g.queue, g.kern, 1, nil, &global, &local, 0, nil, nil); ret != C.CL_SUCCESS {
		return DispatchResult{}, fmt.Errorf("kernel dispatch failed (code %d)", ret)
	}
	if ret := C.clFinish(g.queue); ret != C.CL_SUCCESS {
		return DispatchResult{}, fmt.Errorf("clFinish failed (code %d)", ret)
	}

	var dpCount uint32
	if ret := C.clEnqueueReadBuffer(g.queue, g.bufDPCnt, C.CL_TRUE, 0, 4, unsafe.Pointer(&dpCount), 0, nil, nil); ret != C.CL_SUCCESS {
		return DispatchResult{}, fmt.Errorf("readback dp_count failed (code %d)", ret)
	}

	claimed := int(dpCount)
	overflow := 0
	if claimed > m {
		overflow = claimed - m
		claimed = m
	}

	outHost := make([]byte, claimed*2*numWords*4)
	if claimed > 0 {
		if ret := C.clEnqueueReadBuffer(g.queue, g.bufDPBuf, C.CL_TRUE, 0,
			C.size_t(len(outHost)), unsafe.Pointer(&outHost[0]), 0, nil, nil); ret != C.CL_SUCCESS {
			return DispatchResult{}, fmt.Errorf("readback dp_buffer failed (code %d)", ret)
		}
	}

	pairs := make([]DPPair, claimed)
	stride := 2 * numWords * 4
	for i := 0; i < claimed; i++ {
		rec := outHost[i*stride : (i+1)*stride]
		pairs[i] = DPPair{
			Start: decodeWords(rec[:numWords*4]),
			DP:    decodeWords(rec[numWords*4:]),
		}
	}

	return DispatchResult{Pairs: pairs, Overflow: overflow}, nil
}

func decodeWords(b []byte) chain.State {
	out := make(chain.State, len(b))
	copy(out, b)
	return out
}

func (g *gpuKernel) Close() error {
	if g.bufStates != nil {
		C.clReleaseMemObject(g.bufStates)
	}
	if g.bufStarts != nil {
		C.clReleaseMemObject(g.bufStarts)
	}
	if g.bufDPBuf != nil {
		C.clReleaseMemObject(g.bufDPBuf)
	}
	if g.bufDPCnt != nil {
		C.clReleaseMemObject(g.bufDPCnt)
	}
	if g.kern != nil {
		C.clReleaseKernel(g.kern)
	}
	if g.program != nil {
		C.clReleaseProgram(g.program)
	}
	if g.queue != nil {
		C.clReleaseCommandQueue(g.queue)
	}
	if g.ctx != nil {
		C.clReleaseContext(g.ctx)
	}
	return nil
}
