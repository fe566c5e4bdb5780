package kernel

import (
	"github.com/df07/go-progressive-pathtracer/pkg/device"
)

// AccumulateArgs are the arguments of one accumulate dispatch
type AccumulateArgs struct {
	Frame      []byte
	Accum      []byte
	FrameCount uint32 // number of frames including this one, >= 1
}

// AccumulateKernel blends one frame pixel into the running average
type AccumulateKernel struct {
	format device.Format
}

// NewAccumulateKernel specializes the accumulate program for format
func NewAccumulateKernel(format device.Format) *AccumulateKernel {
	return &AccumulateKernel{format: format}
}

// Run computes accum + (frame - accum) / n for the pixel at index.
// At n = 1 the frame is copied, discarding whatever accum held.
func (k *AccumulateKernel) Run(args *AccumulateArgs, index int) {
	bpp := k.format.BytesPerPixel()
	px := args.Accum[index*bpp : (index+1)*bpp]
	frame := args.Frame[index*bpp : (index+1)*bpp]

	if args.FrameCount <= 1 {
		copy(px, frame)
		return
	}

	accum := k.format.Decode(px)
	fresh := k.format.Decode(frame)
	n := float32(args.FrameCount)

	k.format.Encode(px, accum.Add(fresh.Subtract(accum).Multiply(1/n)))
}
