package model

import (
	"fmt"
	"sort"
)

// DiscriminatorKind selects the real/fake classifier architecture.
type DiscriminatorKind int

const (
	// PatchGAN classifies overlapping 70x70 patches.
	PatchGAN DiscriminatorKind = iota + 1
	// PixelGAN classifies every pixel independently with 1x1 convolutions.
	PixelGAN
)

type convPlan struct {
	mult   int // output channels as a multiple of ndf; 0 means a single channel
	k      int
	stride int
	pad    int
	norm   bool
	act    bool
}

type discriminatorVariant struct {
	name string
	plan []convPlan
}

var discriminatorVariants = map[DiscriminatorKind]discriminatorVariant{
	PatchGAN: {name: "patchGAN", plan: []convPlan{
		{mult: 1, k: 4, stride: 2, pad: 1, act: true},
		{mult: 2, k: 4, stride: 2, pad: 1, norm: true, act: true},
		{mult: 4, k: 4, stride: 2, pad: 1, norm: true, act: true},
		{mult: 8, k: 4, stride: 1, pad: 1, norm: true, act: true},
		{mult: 0, k: 4, stride: 1, pad: 1},
	}},
	PixelGAN: {name: "pixelGAN", plan: []convPlan{
		{mult: 1, k: 1, stride: 1, act: true},
		{mult: 2, k: 1, stride: 1, norm: true, act: true},
		{mult: 0, k: 1, stride: 1},
	}},
}

// ParseDiscriminator resolves a configuration name such as "patchGAN".
func ParseDiscriminator(name string) (DiscriminatorKind, error) {
	for k, v := range discriminatorVariants {
		if v.name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown discriminator %q (want one of %v)", name, DiscriminatorNames())
}

// DiscriminatorNames lists the accepted configuration names.
func DiscriminatorNames() []string {
	names := make([]string, 0, len(discriminatorVariants))
	for _, v := range discriminatorVariants {
		names = append(names, v.name)
	}
	sort.Strings(names)
	return names
}

func (k DiscriminatorKind) String() string {
	if v, ok := discriminatorVariants[k]; ok {
		return v.name
	}
	return fmt.Sprintf("DiscriminatorKind(%d)", int(k))
}

// OutputSize returns the side of the prediction map for a square input,
// or 0 when the input is too small.
func (k DiscriminatorKind) OutputSize(size int) int {
	for _, p := range discriminatorVariants[k].plan {
		span := size + 2*p.pad - p.k
		if span < 0 {
			return 0
		}
		size = span/p.stride + 1
	}
	return size
}

// NewDiscriminator builds the classifier with base width ndf. LeakyReLU
// uses slope 0.2; the first layer is never normalized.
func NewDiscriminator(kind DiscriminatorKind, ndf int) (Module, error) {
	v, ok := discriminatorVariants[kind]
	if !ok {
		return nil, fmt.Errorf("model: unsupported discriminator kind %d", int(kind))
	}
	if ndf <= 0 {
		return nil, fmt.Errorf("model: ndf must be > 0 (got %d)", ndf)
	}
	var net Sequential
	in := 3
	for _, p := range v.plan {
		out := 1
		if p.mult > 0 {
			out = p.mult * ndf
		}
		net = append(net, NewConv(in, out, p.k, p.stride, p.pad))
		if p.norm {
			net = append(net, InstanceNorm())
		}
		if p.act {
			net = append(net, LeakyReLU(0.2))
		}
		in = out
	}
	return net, nil
}
